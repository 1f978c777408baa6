package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ssb/profile"
)

func newProfileCmd(a *app) *cobra.Command {
	c := &cobra.Command{Use: "profile", Short: "Manage saved server profiles"}
	c.AddCommand(newProfileAddCmd(a))
	c.AddCommand(newProfileRemoveCmd(a))
	c.AddCommand(newProfileListCmd(a))
	c.AddCommand(newProfileSetCmd(a))
	c.AddCommand(newProfileShowCmd(a))
	c.AddCommand(newProfileUpdateCmd(a))
	c.AddCommand(newProfileEnvCmd(a))
	return c
}

func (a *app) store() (*profile.Store, error) {
	return profile.Load(a.cfg.ProfilePath)
}

// profileFields are the connection flags shared by add and update.
type profileFields struct {
	sshHost, hostname, username, keyFile, description string
	port                                              int
}

func (f *profileFields) bind(c *cobra.Command) {
	// Local flags shadow the persistent --hostname/--username/... so
	// they describe the profile rather than this invocation.
	c.Flags().StringVar(&f.sshHost, "ssh-host", "", "Host alias from the SSH config file")
	c.Flags().StringVar(&f.hostname, "hostname", "", "Server hostname")
	c.Flags().StringVar(&f.username, "username", "", "SSH username")
	c.Flags().StringVar(&f.keyFile, "key-file", "", "SSH private key file")
	c.Flags().IntVar(&f.port, "port", 22, "SSH port")
	c.Flags().StringVar(&f.description, "description", "", "Profile description")
}

func newProfileAddCmd(a *app) *cobra.Command {
	var f profileFields
	c := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a profile (use --ssh-host, or --hostname with --username and --key-file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.sshHost == "" && (f.hostname == "" || f.username == "" || f.keyFile == "") {
				return fmt.Errorf("either --ssh-host or all of --hostname, --username and --key-file are required")
			}
			s, err := a.store()
			if err != nil {
				return err
			}
			p := profile.Profile{
				Hostname:    f.hostname,
				Username:    f.username,
				KeyFilename: f.keyFile,
				Port:        f.port,
				Description: f.description,
				SSHHost:     f.sshHost,
			}
			if err := s.Add(args[0], p); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added profile %q\n", args[0])
			if _, _, ok := s.Current(); !ok {
				if err := s.SetCurrent(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Set %q as the current profile\n", args[0])
			}
			return nil
		},
	}
	f.bind(c)
	return c
}

func newProfileRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			if err := s.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed profile %q\n", args[0])
			return nil
		},
	}
}

func newProfileListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles; the current one is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			names := s.List()
			if len(names) == 0 {
				fmt.Fprintln(a.out, "No profiles configured")
				return nil
			}
			current, _, _ := s.Current()
			for _, name := range names {
				p, _ := s.Get(name)
				mark := " "
				if name == current {
					mark = "*"
				}
				fmt.Fprintf(a.out, "%s %s\t%s", mark, name, describeTarget(p))
				if p.Description != "" {
					fmt.Fprintf(a.out, "\t%s", p.Description)
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
}

func describeTarget(p profile.Profile) string {
	if p.SSHHost != "" {
		return "ssh:" + p.SSHHost
	}
	return fmt.Sprintf("%s@%s:%d", p.Username, p.Hostname, p.Port)
}

func newProfileSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Set the current profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			if err := s.SetCurrent(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Current profile is now %q\n", args[0])
			return nil
		},
	}
}

func newProfileShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a profile (default: current)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			var (
				name string
				p    profile.Profile
				ok   bool
			)
			if len(args) == 1 {
				name = args[0]
				p, ok = s.Get(name)
			} else {
				name, p, ok = s.Current()
			}
			if !ok {
				if name == "" {
					return fmt.Errorf("no current profile set")
				}
				return fmt.Errorf("%w: %s", profile.ErrNotFound, name)
			}

			fmt.Fprintf(a.out, "Profile: %s\n", name)
			if p.SSHHost != "" {
				fmt.Fprintf(a.out, "  ssh host:    %s\n", p.SSHHost)
			}
			if p.Hostname != "" {
				fmt.Fprintf(a.out, "  hostname:    %s\n", p.Hostname)
				fmt.Fprintf(a.out, "  username:    %s\n", p.Username)
				fmt.Fprintf(a.out, "  port:        %d\n", p.Port)
				fmt.Fprintf(a.out, "  key file:    %s\n", p.KeyFilename)
			}
			if p.Description != "" {
				fmt.Fprintf(a.out, "  description: %s\n", p.Description)
			}
			if len(p.EnvVars) > 0 {
				fmt.Fprintln(a.out, "  env:")
				printEnv(a, p.EnvVars, "    ")
			}
			return nil
		},
	}
}

func newProfileUpdateCmd(a *app) *cobra.Command {
	var f profileFields
	c := &cobra.Command{
		Use:   "update <name>",
		Short: "Change fields of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			var patch profile.Patch
			changed := cmd.Flags().Changed
			if changed("ssh-host") {
				patch.SSHHost = &f.sshHost
			}
			if changed("hostname") {
				patch.Hostname = &f.hostname
			}
			if changed("username") {
				patch.Username = &f.username
			}
			if changed("key-file") {
				patch.KeyFilename = &f.keyFile
			}
			if changed("port") {
				patch.Port = &f.port
			}
			if changed("description") {
				patch.Description = &f.description
			}
			if err := s.Update(args[0], patch); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated profile %q\n", args[0])
			return nil
		},
	}
	f.bind(c)
	return c
}

func newProfileEnvCmd(a *app) *cobra.Command {
	c := &cobra.Command{Use: "env", Short: "Manage variables forwarded with a profile's jobs"}

	c.AddCommand(&cobra.Command{
		Use:   "set <profile> <key> <value>",
		Short: "Set a variable",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			if err := s.SetEnv(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Set %s for profile %q\n", args[1], args[0])
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "unset <profile> <key>",
		Short: "Remove a variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			removed, err := s.UnsetEnv(args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(a.out, "%s was not set for profile %q\n", args[1], args[0])
				return nil
			}
			fmt.Fprintf(a.out, "Unset %s for profile %q\n", args[1], args[0])
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "list <profile>",
		Short: "List variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			p, ok := s.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", profile.ErrNotFound, args[0])
			}
			if len(p.EnvVars) == 0 {
				fmt.Fprintf(a.out, "No environment variables for profile %q\n", args[0])
				return nil
			}
			printEnv(a, p.EnvVars, "")
			return nil
		},
	})
	return c
}

// printEnv prints KEY=VALUE lines in key order, masking values that
// look like secrets.
func printEnv(a *app, env map[string]string, indent string) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.out, "%s%s=%s\n", indent, k, maskSecret(k, env[k]))
	}
}

func maskSecret(key, value string) string {
	switch {
	case !looksSecret(key):
		return value
	case len(value) <= 8:
		return "********"
	}
	return value[:4] + "…" + value[len(value)-2:]
}

func looksSecret(key string) bool {
	for _, s := range []string{"TOKEN", "KEY", "SECRET", "PASSWORD"} {
		if strings.Contains(strings.ToUpper(key), s) {
			return true
		}
	}
	return false
}
