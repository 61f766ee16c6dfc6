// Command vmmon renders a live terminal dashboard of a VM's TLB miss
// rate while a synthetic workload runs against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/tinyrange/vmemu"
)

const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"
)

// gradient returns a hex color interpolated from green (t=0) through
// yellow to red (t=1), used to color the miss-rate bar.
func gradient(t float64) string {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	low := colorful.Color{R: 0.2, G: 0.8, B: 0.2}
	high := colorful.Color{R: 0.9, G: 0.1, B: 0.1}
	return low.BlendLuv(high, t).Hex()
}

func bar(width int, frac float64, color string) string {
	filled := int(float64(width) * frac)
	if filled > width {
		filled = width
	}
	out := fmt.Sprintf("\x1b[38;2;%d;%d;%dm", hexByte(color, 1), hexByte(color, 3), hexByte(color, 5))
	for i := 0; i < width; i++ {
		if i < filled {
			out += "#"
		} else {
			out += "."
		}
	}
	return out + "\x1b[0m"
}

func hexByte(hex string, start int) int {
	if len(hex) < start+2 {
		return 0
	}
	var v int
	fmt.Sscanf(hex[start:start+2], "%02x", &v)
	return v
}

func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func render(st vmemu.Stats) string {
	width := termWidth()
	barWidth := width - 20
	if barWidth < 10 {
		barWidth = 10
	}
	color := gradient(st.MissRate)
	line := fmt.Sprintf("miss %5.1f%% %s", st.MissRate*100, bar(barWidth, st.MissRate, color))
	pad := width - ansi.StringWidth(line)
	if pad > 0 {
		line += fmt.Sprintf("%*s", pad, "")
	}
	return line
}

func workload(ctx context.Context, vm *vmemu.VM, maxAlloc int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n := rng.Intn(maxAlloc) + 1
		a, err := vm.Alloc(ctx, n)
		if err != nil {
			continue
		}
		buf := make([]byte, n)
		rng.Read(buf)
		_ = vm.Write(ctx, a, buf)
		_ = vm.Free(ctx, a, n)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	refreshHz := fs.Float64("hz", 10, "maximum dashboard refresh rate, in frames per second")
	duration := fs.Duration("duration", 10*time.Second, "how long to run the synthetic workload")
	maxAlloc := fs.Int("max-alloc", 8192, "maximum bytes requested per allocation")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	vm := vmemu.New()
	defer vm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	go workload(ctx, vm, *maxAlloc)

	limiter := rate.NewLimiter(rate.Limit(*refreshHz), 1)

	fmt.Fprint(os.Stdout, hideCursor)
	defer fmt.Fprint(os.Stdout, showCursor)

	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		fmt.Fprint(os.Stdout, clearScreen+cursorHome)
		fmt.Fprintln(os.Stdout, render(vm.Stats()))
	}

	vm.LogTLBStats(context.Background())
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vmmon: %v\n", err)
		os.Exit(1)
	}
}
