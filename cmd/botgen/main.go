// Command botgen renders the config artifact of an approved bot request
// into a config file the earnbot binary can run with.
//
//	botgen -in request.yaml -template templates/earnbot.yaml.tmpl -out configs/mybot.yaml
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/m3rciful/botmaker/internal/botconfig"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "botgen:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("botgen", flag.ContinueOnError)
	in := fs.String("in", "", "bot config artifact produced by the creation wizard")
	tmpl := fs.String("template", "templates/earnbot.yaml.tmpl", "deploy template")
	out := fs.String("out", "", "output file; empty writes to stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	cfg, err := botconfig.ParseFile(*in)
	if err != nil {
		return err
	}
	t, err := botconfig.LoadTemplate(*tmpl)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := botconfig.Render(&buf, t, cfg); err != nil {
		return err
	}
	if *out == "" {
		_, err = stdout.Write(buf.Bytes())
		return err
	}
	return os.WriteFile(*out, buf.Bytes(), 0o600)
}
