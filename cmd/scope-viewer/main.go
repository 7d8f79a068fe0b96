// scope-viewer - attaches to a running miniscope daemon, keeps the latest
// frame on disk and prints head orientation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/viewer"
)

func main() {
	url := flag.String("url", "ws://localhost:8181/ws/frames", "Frame stream URL")
	out := flag.String("out", "latest.jpg", "Where to keep the most recent frame")
	every := flag.Int("every", 30, "Print orientation every N frames")
	preset := flag.String("preset", "", "Apply a camera preset before viewing")
	snapshot := flag.Bool("snapshot", false, "Save a single frame and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := viewer.NewAPI(httpBase(*url), 10*time.Second)
	if *preset != "" {
		cfg, err := api.ApplyPreset(ctx, *preset)
		if err != nil {
			fmt.Printf("❌ Preset failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("🎛️  Camera: led=%d focus=%d gain=%s fps=%d\n", cfg.LEDBrightness, cfg.Focus, cfg.Gain, cfg.FrameRate)
	}
	if *snapshot {
		data, err := api.Snapshot(ctx)
		if err != nil {
			fmt.Printf("❌ Snapshot failed: %v\n", err)
			os.Exit(1)
		}
		if err := writeAtomic(*out, data); err != nil {
			fmt.Printf("❌ Save failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Saved %s (%d bytes)\n", *out, len(data))
		return
	}

	fmt.Printf("🔬 Connecting to %s...\n", *url)
	c, err := viewer.Dial(ctx, *url)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	fmt.Println("✅ Connected!")

	start := time.Now()
	var count int
	for {
		f, err := c.Next()
		if err != nil {
			elapsed := time.Since(start).Seconds()
			fmt.Printf("\n📊 Stats: %d frames in %.1fs (%.1f fps)\n", count, elapsed, float64(count)/elapsed)
			var se *viewer.StreamError
			switch {
			case errors.Is(err, viewer.ErrStreamEnded), ctx.Err() != nil:
				return
			case errors.As(err, &se):
				fmt.Printf("❌ %v\n", se)
			default:
				fmt.Printf("❌ Read failed: %v\n", err)
			}
			os.Exit(1)
		}
		count++

		if err := writeAtomic(*out, f.JPEG); err != nil {
			fmt.Printf("⚠️  Save failed: %v\n", err)
		}
		if *every > 0 && count%*every == 1 {
			q := f.Meta.Quaternion
			fmt.Printf("frame %6d  %dx%d  q=(%.3f, %.3f, %.3f, %.3f)\n",
				f.Meta.Index, f.Meta.Width, f.Meta.Height, q[0], q[1], q[2], q[3])
		}
	}
}

// httpBase turns ws://host:port/ws/frames into http://host:port.
func httpBase(wsURL string) string {
	base := strings.Replace(wsURL, "ws", "http", 1)
	if i := strings.Index(base, "/ws/"); i >= 0 {
		base = base[:i]
	}
	return base
}

// writeAtomic replaces path so readers never see a partial JPEG.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.jpg")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
