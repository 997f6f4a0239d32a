// Command hgc is a thin command-line client for the Mercurial command
// server, mainly useful for exercising the library end to end against
// a real repository.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	hgcmd "github.com/smnsjas/go-hgcmd"
	"github.com/smnsjas/go-hgcmd/commands"
)

// fileConfig is the optional YAML configuration file.
type fileConfig struct {
	Hg       string `yaml:"hg"`
	Encoding string `yaml:"encoding"`
	Repo     string `yaml:"repo"`
}

// loadConfig reads the config file at path, or the default location
// when path is empty. A missing file at the default location is not an
// error; a missing file at an explicit path is.
func loadConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return &fileConfig{}, nil
		}
		path = filepath.Join(home, ".config", "hgc", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return &fileConfig{}, nil
		}
		return nil, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	var (
		repo       string
		hgPath     string
		encoding   string
		configPath string
		debug      bool
		limit      int
		rev        string
	)

	open := func() (*hgcmd.Client, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if repo == "" {
			repo = cfg.Repo
		}
		if repo == "" {
			repo = "."
		}
		if hgPath == "" {
			hgPath = cfg.Hg
		}
		if encoding == "" {
			encoding = cfg.Encoding
		}

		opts := []hgcmd.Option{}
		if hgPath != "" {
			opts = append(opts, hgcmd.WithExecutable(hgPath))
		}
		if encoding != "" {
			opts = append(opts, hgcmd.WithEncoding(encoding))
		}
		if debug {
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
			opts = append(opts, hgcmd.WithSlogLogger(slog.New(handler)))
		}
		return hgcmd.NewClient(repo, opts...)
	}

	rootCmd := &cobra.Command{
		Use:           "hgc",
		Short:         "Talk to a Mercurial command server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&repo, "repo", "R", "", "Repository path (default \".\")")
	rootCmd.PersistentFlags().StringVar(&hgPath, "hg", "", "Path to the hg executable")
	rootCmd.PersistentFlags().StringVar(&encoding, "encoding", "", "HGENCODING for the server")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/hgc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log protocol activity to stderr")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show changed files in the working copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.Status(commands.StatusOpts{})
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%c %s\n", e.Code, e.Path)
			}
			return nil
		},
	}

	logCmd := &cobra.Command{
		Use:   "log [FILE...]",
		Short: "Show revision history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			revs, err := client.Log(commands.LogOpts{Files: args, Limit: limit})
			if err != nil {
				return err
			}
			for _, r := range revs {
				fmt.Printf("%d:%s %s %s\n  %s\n",
					r.Rev, r.Node[:12], r.Date.Format("2006-01-02 15:04"), r.Author, firstLine(r.Description))
			}
			return nil
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "l", 0, "Limit the number of revisions")

	headsCmd := &cobra.Command{
		Use:   "heads",
		Short: "Show repository heads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			heads, err := client.Heads(commands.HeadsOpts{})
			if err != nil {
				return err
			}
			for _, r := range heads {
				fmt.Printf("%d:%s (%s) %s\n", r.Rev, r.Node[:12], r.Branch, firstLine(r.Description))
			}
			return nil
		},
	}

	identifyCmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify the working copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Identify(commands.IdentifyOpts{Rev: rev})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	identifyCmd.Flags().StringVarP(&rev, "rev", "r", "", "Revision to identify")

	catCmd := &cobra.Command{
		Use:   "cat FILE...",
		Short: "Print file content at a revision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			content, err := client.Cat(rev, args...)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
	catCmd.Flags().StringVarP(&rev, "rev", "r", "", "Revision to read from")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show server handshake and repository details",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			sess := client.Session()
			root, err := client.Root()
			if err != nil {
				return err
			}
			version, err := client.Version()
			if err != nil {
				return err
			}
			fmt.Printf("root:         %s\n", root)
			fmt.Printf("version:      %s\n", version)
			fmt.Printf("encoding:     %s\n", sess.Encoding())
			fmt.Printf("capabilities: %v\n", sess.Capabilities())
			return nil
		},
	}

	rootCmd.AddCommand(statusCmd, logCmd, headsCmd, identifyCmd, catCmd, infoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hgc: %v\n", err)
		os.Exit(1)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
