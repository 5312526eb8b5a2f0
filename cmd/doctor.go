package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/state"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local environment for problems",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

type check struct {
	name string
	fn   func() error
}

func runDoctor() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("✗ config: %v\n", err)
		os.Exit(1)
	}
	paths := state.DefaultPaths()

	checks := []check{
		{"docker available", func() error {
			return exec.Command("docker", "version", "--format", "{{.Server.Version}}").Run()
		}},
		{"docker compose available", func() error {
			return exec.Command("docker", "compose", "version").Run()
		}},
		{"config home writable", func() error { return checkWritable(paths.ConfigHome) }},
		{"state home writable", func() error { return checkWritable(paths.StateHome) }},
		{"secrets file permissions", func() error {
			info, err := os.Stat(paths.SecretsFile())
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.Mode().Perm()&0o077 != 0 {
				return fmt.Errorf("mode %04o is too open, want 0600", info.Mode().Perm())
			}
			return nil
		}},
		{"admin token configured", func() error {
			if cfg.Admin.Token != "" {
				return nil
			}
			stored, err := secrets.ParseFile(paths.SecretsFile())
			if err != nil {
				return err
			}
			if stored["ADMIN_TOKEN"] == "" {
				return fmt.Errorf("not set; POST /setup or export ADMIN_TOKEN")
			}
			return nil
		}},
		{"guardian reachable", func() error {
			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Guardian.Port))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return nil
		}},
	}

	failed := 0
	for _, c := range checks {
		if err := c.fn(); err != nil {
			fmt.Printf("✗ %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s\n", c.name)
	}
	if failed > 0 {
		fmt.Printf("\n%d check(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("\nall checks passed")
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
