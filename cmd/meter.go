package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
	"github.com/audiolibrelab/micrelay/internal/recorder"
)

// meterFloor is the level drawn as an empty bar.
const meterFloor = -60.0

// meterLine draws the average level as a bar of width cells with the peak
// marked, followed by both values in dBFS.
func meterLine(p audio.Power, width int) string {
	fill := cells(p.Average, width)
	peak := cells(p.Peak, width)

	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i < fill:
			b.WriteByte('#')
		case peak > 0 && i == peak-1:
			b.WriteByte('|')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')
	fmt.Fprintf(&b, " %6.1f dB (peak %6.1f)", p.Average, p.Peak)
	return b.String()
}

func cells(db float32, width int) int {
	v := float64(db)
	if v <= meterFloor {
		return 0
	}
	if v >= 0 {
		return width
	}
	return int((v - meterFloor) / -meterFloor * float64(width))
}

func clock(elapsed, limit time.Duration) string {
	return fmt.Sprintf("%s / %s", mmss(elapsed), mmss(limit))
}

func mmss(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func statusLine(st recorder.Status, limit time.Duration) string {
	switch st.Kind {
	case recorder.StatusStarting:
		return "● Recording started"
	case recorder.StatusProgress:
		return "● " + clock(st.Elapsed, limit)
	case recorder.StatusCompleted:
		return "■ Recording completed"
	case recorder.StatusCancelled:
		return "✕ Recording cancelled"
	case recorder.StatusFailed:
		return fmt.Sprintf("✕ Recording failed: %v", st.Err)
	default:
		return string(st.Kind)
	}
}
