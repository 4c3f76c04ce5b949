package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-ledger/internal/ami"
)

func wiretapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wiretap",
		Short: "Capture and sanitize raw AMI traffic for test fixtures",
	}
	cmd.AddCommand(captureCmd(), sanitizeCmd())
	return cmd
}

func captureCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Log in with the configured AMI account and stream events to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", outDir, err)
			}
			filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".raw")
			f, err := os.Create(filename)
			if err != nil {
				return err
			}
			defer f.Close()
			w := bufio.NewWriter(f)
			defer w.Flush()

			client, err := ami.Dial(ctx, cfg.AMI.Addr(), logger)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintln(w, client.Banner())

			runErr := make(chan error, 1)
			go func() {
				runErr <- client.Run(ctx, func(evt ami.Event) {
					w.Write(evt.Encode())
				})
			}()

			loginCtx, cancel := context.WithTimeout(ctx, cfg.AMI.ActionTimeout)
			err = client.Login(loginCtx, cfg.AMI.Username, cfg.AMI.Secret)
			cancel()
			if err != nil {
				client.Close()
				<-runErr
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "writing to %s (ctrl+c to stop)\n", filename)
			return <-runErr
		},
	}
	cmd.Flags().StringVar(&outDir, "outdir", "testdata/captures", "output directory for captures")
	return cmd
}

func sanitizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <file>",
		Short: "Redact secrets, addresses and phone numbers in place (keeps .bak)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sanitizeFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sanitized:", args[0])
			return nil
		},
	}
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`\b\d{6,13}\b`)
	secretPattern = regexp.MustCompile(`(?i)^((?:Secret|Password):\s*)[^\r]+`)
	numberHeaders = []string{"CallerIDNum", "ConnectedLineNum", "DestCallerIDNum", "DestConnectedLineNum", "Exten", "DialString"}
)

const redactedNumber = "0555000123"

// sanitizeFile rewrites a capture so it can be committed as a fixture.
// Numbers stay long enough to exercise trunk prefix stripping.
func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func sanitizeLine(line string) string {
	line = secretPattern.ReplaceAllString(line, "${1}REDACTED")
	line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})

	key, _, ok := strings.Cut(line, ":")
	if !ok {
		return line
	}
	for _, h := range numberHeaders {
		if strings.EqualFold(strings.TrimSpace(key), h) {
			return phonePattern.ReplaceAllString(line, redactedNumber)
		}
	}
	return line
}
