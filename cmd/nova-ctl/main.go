package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cli "github.com/spf13/pflag"

	"nova/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath(), "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: nova-ctl [flags] toggle|start|stop|cancel|status|set <key> <value>|file <path>|text <words...>\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		args = []string{ipc.CmdToggle}
	}

	msg := ipc.ControlMessage{Cmd: args[0]}
	switch msg.Cmd {
	case ipc.CmdToggle, ipc.CmdStart, ipc.CmdStop, ipc.CmdCancel, ipc.CmdStatus:
	case ipc.CmdSet:
		if len(args) < 3 {
			cli.Usage()
			os.Exit(2)
		}
		msg.Arg = args[1]
		msg.Value = strings.Join(args[2:], " ")
	case ipc.CmdFile:
		if len(args) != 2 {
			cli.Usage()
			os.Exit(2)
		}
		abs, err := filepath.Abs(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		msg.Arg = abs
	case ipc.CmdText:
		if len(args) < 2 {
			cli.Usage()
			os.Exit(2)
		}
		msg.Arg = strings.Join(args[1:], " ")
	default:
		cli.Usage()
		os.Exit(2)
	}

	r, err := ipc.Send(*socket, msg)
	if err != nil {
		fmt.Println("nova daemon not running:", err)
		os.Exit(1)
	}
	if !r.OK {
		fmt.Fprintln(os.Stderr, "error:", r.Error)
		os.Exit(1)
	}

	switch {
	case r.Text != "":
		fmt.Println(r.Text)
	case r.State != "":
		fmt.Println(r.State)
	}
	keys := make([]string, 0, len(r.Settings))
	for k := range r.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, r.Settings[k])
	}
}
