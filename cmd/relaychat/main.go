package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sumanthd032/relaychat/internal/config"
	"github.com/sumanthd032/relaychat/internal/console"
	"github.com/sumanthd032/relaychat/internal/discovery"
	rlog "github.com/sumanthd032/relaychat/internal/log"
	"github.com/sumanthd032/relaychat/internal/peer"
	"github.com/sumanthd032/relaychat/internal/relay"
	"github.com/sumanthd032/relaychat/pkg/util"
)

const discoveryTimeout = 5 * time.Second

var version = "dev"

var (
	cfgFile  string
	logLevel string
	logFile  string
)

// This is the root command for our CLI tool.
var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "relaychat is an end-to-end encrypted chat between two clients through a relay.",
	Long: `relaychat pairs two chat clients through a relay server. The clients agree
on a key with a Diffie-Hellman exchange that the relay only forwards, so the
relay never sees the messages it carries.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay server",
	Long:  `Accepts up to two chat clients, hands them the key exchange parameters and forwards their traffic.`,
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a relay as a chat client",
	Long:  `Connects to a relay by address, or finds it on the local network with the code the relay printed.`,
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "relaychat", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file, stdout for the relay and stderr for chat when empty")

	relayCmd.Flags().String("address", "", "address to listen on")
	relayCmd.Flags().IntP("port", "p", 0, "TCP port to listen on")
	relayCmd.Flags().String("metrics", "", "host:port for the /status and /metrics endpoint")
	relayCmd.Flags().Bool("discover", false, "publish the relay on the local network under a generated code")

	chatCmd.Flags().String("address", "", "relay host to connect to")
	chatCmd.Flags().IntP("port", "p", 0, "relay port to connect to")
	chatCmd.Flags().StringP("code", "c", "", "find the relay on the local network by its code")
	chatCmd.Flags().Int("handshake-timeout", 0, "give up on an unanswered key exchange after this many milliseconds")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, if any, and lays the command line flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadFile(cfgFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = logFile
	}

	switch cmd.Name() {
	case "relay":
		if flags.Changed("address") {
			cfg.Relay.Address, _ = flags.GetString("address")
		}
		if flags.Changed("port") {
			cfg.Relay.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("metrics") {
			cfg.Relay.MetricsAddress, _ = flags.GetString("metrics")
		}
		if flags.Changed("discover") {
			cfg.Relay.Discovery, _ = flags.GetBool("discover")
		}
	case "chat":
		if flags.Changed("address") {
			cfg.Chat.Address, _ = flags.GetString("address")
		}
		if flags.Changed("port") {
			cfg.Chat.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("handshake-timeout") {
			cfg.Chat.HandshakeTimeout, _ = flags.GetInt("handshake-timeout")
		}
	}

	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	backend, err := rlog.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	defer backend.Close()

	srv, err := relay.New(cfg.Relay, backend)
	if err != nil {
		return fmt.Errorf("could not create relay: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Shutdown()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Relay listening on %v\n", srv.Addr())
	if code := srv.Code(); code != "" {
		fmt.Fprintf(out, "Chat clients can join with: relaychat chat --code %s\n", code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// The terminal belongs to the chat, so only problems are logged unless asked otherwise.
	var backend *rlog.Backend
	if cfg.Logging.File == "" && !cfg.Logging.Disable {
		level := "WARNING"
		if cmd.Flags().Changed("log-level") {
			level = cfg.Logging.Level
		}
		backend, err = rlog.NewWriter(os.Stderr, level)
	} else {
		backend, err = rlog.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	}
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := cfg.Chat.RelayAddress()
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		if !util.IsCode(code) {
			return fmt.Errorf("'%s' is not a relay code", code)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Looking for relay '%s' on the local network...\n", code)
		findCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		address, err = discovery.DiscoverService(findCtx, code, backend.GetLogger("discovery"))
		cancel()
		if err != nil {
			return err
		}
	}

	ui := console.New(cmd.OutOrStdout())
	session, err := peer.NewSession(cfg.Chat, ui, backend)
	if err != nil {
		return err
	}
	if err := session.Connect(ctx, address); err != nil {
		return err
	}
	defer session.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return ui.Run(runCtx, cmd.InOrStdin(), session)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
