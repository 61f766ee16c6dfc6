// Command vmbench drives a shared VM with many concurrent workers,
// exercising the allocator and TLB under contention and reporting the
// resulting TLB miss rate and page usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/vmemu"
)

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	workers := fs.Int("workers", 8, "number of concurrent goroutines driving the VM")
	iterations := fs.Int("n", 2000, "allocation/free cycles per worker")
	configPath := fs.String("config", "", "optional YAML config file overriding page/address/mem/entry/TLB sizing")
	maxAlloc := fs.Int("max-alloc", 16384, "maximum bytes requested per allocation")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	var vm *vmemu.VM
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		cfg, err := vmemu.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		vm = vmemu.New(
			vmemu.WithPageSize(cfg.PageSize),
			vmemu.WithAddressSpace(cfg.AddressSpace),
			vmemu.WithMemSize(cfg.MemSize),
			vmemu.WithEntrySize(cfg.EntrySize),
			vmemu.WithTLBEntries(cfg.TLBEntries),
		)
	} else {
		vm = vmemu.New()
	}
	defer vm.Close()

	total := *workers * *iterations
	bar := progressbar.Default(int64(total), "stressing vmemu")
	defer bar.Close()

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < *workers; w++ {
		seed := int64(w) + 1
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < *iterations; i++ {
				n := rng.Intn(*maxAlloc) + 1
				a, err := vm.Alloc(ctx, n)
				if err != nil {
					// Exhaustion under contention is an expected
					// outcome of the stress test, not a failure.
					bar.Add(1)
					continue
				}

				buf := make([]byte, n)
				rng.Read(buf)
				if err := vm.Write(ctx, a, buf); err != nil {
					return fmt.Errorf("worker %d: write: %w", w, err)
				}
				got := make([]byte, n)
				if err := vm.Read(ctx, a, got); err != nil {
					return fmt.Errorf("worker %d: read: %w", w, err)
				}
				for j := range buf {
					if buf[j] != got[j] {
						return fmt.Errorf("worker %d: read-back mismatch at byte %d", w, j)
					}
				}
				if err := vm.Free(ctx, a, n); err != nil {
					return fmt.Errorf("worker %d: free: %w", w, err)
				}
				bar.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	vm.LogTLBStats(ctx)
	st := vm.Stats()
	fmt.Printf("translations=%d tlb_misses=%d miss_rate=%.4f physical_pages_used=%d virtual_pages_used=%d\n",
		st.Translations, st.TLBMisses, st.MissRate, st.PhysicalPagesUsed, st.VirtualPagesUsed)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vmbench: %v\n", err)
		os.Exit(1)
	}
}
