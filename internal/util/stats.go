package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide media traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent   atomic.Int64 // cumulative Opus frames written to the local track
	BytesSent    atomic.Int64 // cumulative payload bytes written to the local track
	PacketsRecv  atomic.Int64 // cumulative RTP packets read from the remote track
	BytesRecv    atomic.Int64 // cumulative RTP payload bytes read from the remote track
	BytesWritten atomic.Int64 // cumulative bytes saved to recordings
}

func (s *stats) AddSent(n int)    { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.PacketsRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddWritten(n int) { s.BytesWritten.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevFrames, prevPackets int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				frames := Stats.FramesSent.Load()
				packets := Stats.PacketsRecv.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0

				if frames > prevFrames || packets > prevPackets {
					pterm.DefaultLogger.Info(formatStats(outS, inS, frames-prevFrames, packets-prevPackets))
				}

				prevSent = sent
				prevRecv = recv
				prevFrames = frames
				prevPackets = packets

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, frames, packets int64) string {
	return fmt.Sprintf("Audio out: %s/s (%d frames) | in: %s/s (%d packets)",
		formatBytes(outS),
		frames,
		formatBytes(inS),
		packets,
	)
}
