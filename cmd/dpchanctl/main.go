// dpchanctl is the application-side interactive console for a dataplane
// channel. It attaches to a named channel and issues alloc/free/stats/show
// commands against the live region, plus a standalone "size" subcommand
// that computes a channel's region layout without creating anything.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/psaab/dpchan/pkg/channel"
	"github.com/psaab/dpchan/pkg/layout"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "size" {
		runSize(os.Args[2:])
		return
	}

	name := flag.String("name", "", "channel name to attach to")
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "dpchanctl: -name is required (or run 'dpchanctl size ...')")
		os.Exit(1)
	}

	ch, err := channel.Attach(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpchanctl: attach %s: %v\n", *name, err)
		os.Exit(1)
	}
	defer ch.Destroy()

	c := &console{ch: ch}
	c.run()
}

// runSize implements "dpchanctl size -ne N -na N -nb N -buffer-size N
// [-huge-page]", calling layout.Compute directly so an operator can size a
// manifest entry without creating a region.
func runSize(args []string) {
	fs := flag.NewFlagSet("size", flag.ExitOnError)
	ne := fs.Uint64("ne", 1024, "engine->app ring capacity")
	na := fs.Uint64("na", 1024, "app->engine ring capacity")
	nb := fs.Uint64("nb", 2048, "buffer pool / free ring capacity")
	bufSize := fs.Uint64("buffer-size", 2048, "application-visible bytes per buffer")
	hugePage := fs.Bool("huge-page", false, "size for huge-page alignment")
	fs.Parse(args)

	l, err := layout.Compute(layout.Params{
		Ne:         *ne,
		Na:         *na,
		Nb:         *nb,
		BufferSize: *bufSize,
		HugePage:   *hugePage,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpchanctl size: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(l.Describe())
}

type console struct {
	ch *channel.Channel
	rl *readline.Instance
}

func (c *console) run() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("dpchanctl(%s)> ", c.ch.Name()),
		HistoryFile:     "/tmp/dpchanctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(
			readline.PcItem("alloc"),
			readline.PcItem("free"),
			readline.PcItem("stats"),
			readline.PcItem("show"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpchanctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	c.rl = rl

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !c.dispatch(fields[0], fields[1:]) {
			return
		}
	}
}

func (c *console) dispatch(cmd string, args []string) bool {
	switch cmd {
	case "alloc":
		c.cmdAlloc(args)
	case "free":
		c.cmdFree(args)
	case "stats":
		c.cmdStats()
	case "show":
		c.cmdShow(args)
	case "exit", "quit":
		return false
	default:
		fmt.Fprintf(c.rl.Stderr(), "unknown command %q (try: alloc, free, stats, show, exit)\n", cmd)
	}
	return true
}

func (c *console) cmdAlloc(args []string) {
	n := 1
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			n = v
		}
	}
	idx := c.ch.AllocBulk(n)
	if len(idx) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "alloc: pool exhausted")
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "allocated %d buffers: %v\n", len(idx), idx)
}

func (c *console) cmdFree(args []string) {
	idx := make([]uint32, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			fmt.Fprintf(c.rl.Stderr(), "free: invalid index %q\n", a)
			return
		}
		idx = append(idx, uint32(v))
	}
	if len(idx) == 0 {
		fmt.Fprintln(c.rl.Stderr(), "free: usage: free <index> [index...]")
		return
	}
	if err := c.ch.FreeBulk(idx); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "free: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "freed %d buffers\n", len(idx))
}

func (c *console) cmdStats() {
	s := c.ch.Stats()
	fmt.Fprintf(c.rl.Stdout(), "alloc=%d free=%d leaked=%d ctrl_sq=%d ctrl_cq=%d e2a=%d a2e=%d backpressure=%d free_ring=%d\n",
		s.AllocCount, s.FreeCount, s.LeakedCount, s.CtrlSQEnqueued, s.CtrlCQEnqueued,
		s.E2AEnqueued, s.A2EEnqueued, s.BackPressureEvents, s.FreeRingCount)
}

func (c *console) cmdShow(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(c.rl.Stdout(), "name=%s pool_count=%d frame_size=%d\n",
			c.ch.Name(), c.ch.PoolCount(), c.ch.PoolFrameSize())
		return
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "show: invalid index %q\n", args[0])
		return
	}
	header, payload := c.ch.Frame(uint32(v))
	fmt.Fprintf(c.rl.Stdout(), "frame %d: header=%d bytes payload=%d bytes\n", v, len(header), len(payload))
}
