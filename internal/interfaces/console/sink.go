package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Sink 把同步事件打印到终端
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func NewSink() *Sink { return &Sink{out: os.Stdout, color: true} }

// NewPlainSink writes uncolored lines to w.
func NewPlainSink(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) Send(_ context.Context, ev model.Event) error {
	kind := fmt.Sprintf("%-8s", ev.Kind)
	if s.color {
		kind = colorize(kind, kindColor(ev.Kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s %s %s/%s %s\n",
		ev.At.Format("2006-01-02 15:04:05"), kind, ev.OwnerID, ev.Source, ev.Message)
	return err
}

func kindColor(k model.EventKind) string {
	switch k {
	case model.EventComplete:
		return ansiGreen
	case model.EventError:
		return ansiRed
	default:
		return ansiYellow
	}
}

// RenderStatus 渲染游标状态表（status 子命令）
func RenderStatus(cursors []model.SyncCursor, now time.Time, color bool) string {
	var sb strings.Builder
	header := fmt.Sprintf("%-16s %-13s %-10s %-10s %11s %7s %7s  %s\n",
		"OWNER", "SOURCE", "DATE", "STATUS", "PROGRESS", "OK", "FAILED", "LAST RUN")
	if color {
		header = colorize(header, ansiDim)
	}
	sb.WriteString(header)
	if len(cursors) == 0 {
		sb.WriteString("(no sync runs yet)\n")
		return sb.String()
	}
	for _, c := range cursors {
		status := fmt.Sprintf("%-10s", c.Status)
		if color {
			status = colorize(status, statusColor(c.Status))
		}
		progress := fmt.Sprintf("%d/%d", c.CursorPosition, c.TotalItemsForDay)
		last := "--"
		if !c.LastRunAt.IsZero() {
			last = now.Sub(c.LastRunAt).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(&sb, "%-16s %-13s %-10s %s %11s %7d %7d  %s\n",
			c.OwnerID, c.Source, c.SyncDate, status, progress, c.ItemsProcessed, c.ItemsFailed, last)
		if c.LastError != "" {
			fmt.Fprintf(&sb, "  └ %s\n", c.LastError)
		}
	}
	return sb.String()
}

func statusColor(s model.CursorStatus) string {
	switch s {
	case model.CursorCompleted:
		return ansiGreen
	case model.CursorError:
		return ansiRed
	default:
		return ansiYellow
	}
}

var _ port.NotificationSink = (*Sink)(nil)
