package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ssb/hostconfig"
)

func newHostsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts [alias]",
		Short: "List host aliases, or show how one alias resolves",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := hostconfig.Load(a.cfg.SSHConfigPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return a.showHost(r, args[0])
			}

			entries := r.Hosts()
			if len(entries) == 0 {
				fmt.Fprintf(a.out, "no hosts in %s\n", r.Path())
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tHOSTNAME\tUSER\tPORT\tPROXYJUMP")
			for _, e := range entries {
				h := e.Host
				port := ""
				if h.Port != 0 {
					port = fmt.Sprint(h.Port)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					strings.Join(e.Patterns, " "), dash(h.HostName), dash(h.User), dash(port), dash(h.ProxyJump))
			}
			return w.Flush()
		},
	}
}

func (a *app) showHost(r *hostconfig.Resolver, alias string) error {
	conn, err := r.Connection(alias)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Host: %s\n", alias)
	fmt.Fprintf(a.out, "  hostname:      %s\n", conn.Hostname)
	fmt.Fprintf(a.out, "  user:          %s\n", conn.Username)
	fmt.Fprintf(a.out, "  port:          %d\n", conn.Port)
	fmt.Fprintf(a.out, "  identity file: %s\n", dash(conn.IdentityFile))
	fmt.Fprintf(a.out, "  proxy jump:    %s\n", dash(conn.ProxyJump))
	if conn.ProxyCommand != "" {
		fmt.Fprintf(a.out, "  proxy command: %s (ignored)\n", conn.ProxyCommand)
	}
	fmt.Fprintf(a.out, "  forward agent: %v\n", conn.ForwardAgent)
	if conn.IdentityFile == "" {
		if keys := hostconfig.DefaultIdentityFiles(); len(keys) > 0 {
			fmt.Fprintf(a.out, "  default keys:  %s\n", strings.Join(keys, ", "))
		}
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
