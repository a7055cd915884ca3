package loghub

import (
	"io"
	"log/slog"
	"strings"

	"github.com/hpcloud/tail"
)

// follower tails one log file into the hub.
type follower struct {
	path string
	tail *tail.Tail
}

func (f *follower) stop() error {
	err := f.tail.Stop()
	f.tail.Cleanup()
	return err
}

// follow starts tailing path from its beginning unless it is already tailed.
func (h *Hub) follow(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, ok := h.files[path]; ok {
		return
	}

	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		ReOpen:    true,
		MustExist: true,
		Follow:    true,
		Poll:      h.config.Poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		h.logger.Warn("cannot tail log file", slog.String("path", path), slog.Any("error", err))
		return
	}

	h.files[path] = &follower{path: path, tail: t}
	h.wg.Add(1)
	go h.pump(path, t)
	h.logger.Info("tailing log file", slog.String("path", path))
}

// unfollow stops tailing path.
func (h *Hub) unfollow(path string) {
	h.mu.Lock()
	f, ok := h.files[path]
	delete(h.files, path)
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := f.stop(); err != nil {
		h.logger.Debug("tail stopped with error", slog.String("path", path), slog.Any("error", err))
	}
	h.logger.Info("stopped tailing log file", slog.String("path", path))
}

func (h *Hub) pump(path string, t *tail.Tail) {
	defer h.wg.Done()
	for line := range t.Lines {
		if line.Err != nil {
			h.logger.Debug("tail error", slog.String("path", path), slog.Any("error", line.Err))
			continue
		}
		h.Publish(strings.TrimRight(line.Text, "\r"))
	}
}
