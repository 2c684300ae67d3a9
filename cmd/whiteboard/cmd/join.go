package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"whiteboard/client"
	"whiteboard/client/pdfexport"
	"whiteboard/client/termui"
	"whiteboard/config"
	"whiteboard/discovery"
	"whiteboard/logging"
	"whiteboard/replog"
	"whiteboard/transport"
)

var joinFlags struct {
	server    string
	username  string
	websocket bool
	secure    bool
	discover  bool
	headless  bool
	logDir    string
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a whiteboard relay",
	Long: `Join a relay and draw with the mouse in the terminal.

With --headless there is no canvas: stdin lines are sent as chat and
/clear, /undo, /export <file> and /quit are available.`,
	RunE: runJoin,
}

func init() {
	addJoinFlags(joinCmd)
	rootCmd.AddCommand(joinCmd)
}

func addJoinFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&joinFlags.server, "server", "", "relay address (WHITEBOARD_SERVER)")
	f.StringVar(&joinFlags.username, "username", "", "name shown to others, random if empty (WHITEBOARD_USERNAME)")
	f.BoolVar(&joinFlags.websocket, "websocket", false, "connect over a websocket to the relay's HTTP address (WHITEBOARD_WEBSOCKET)")
	f.BoolVar(&joinFlags.secure, "secure", false, "use wss:// for websocket connections")
	f.BoolVar(&joinFlags.discover, "discover", false, "find the relay on the local network over mDNS (WHITEBOARD_DISCOVER)")
	f.BoolVar(&joinFlags.headless, "headless", false, "run without the terminal canvas")
	f.StringVar(&joinFlags.logDir, "log-dir", "", "directory for the client log files (WHITEBOARD_LOG_DIR)")
}

func clientConfig(cmd *cobra.Command) (config.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("server") {
		cfg.Server = joinFlags.server
	}
	if f.Changed("username") {
		cfg.Username = joinFlags.username
	}
	if f.Changed("websocket") {
		cfg.Websocket = joinFlags.websocket
	}
	if f.Changed("discover") {
		cfg.Discover = joinFlags.discover
	}
	if f.Changed("log-dir") {
		cfg.LogDir = joinFlags.logDir
	}
	if cfg.Username == "" {
		cfg.Username = randomdata.SillyName()
	}
	return cfg, cfg.Validate()
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logFiles, err := logging.SetupClient(logger, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logFiles.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server
	if cfg.Discover {
		color.Cyan("looking for a relay on the local network...")
		if addr, err = discovery.Browse(ctx, discovery.DefaultTimeout, logger); err != nil {
			return err
		}
	}

	conn, err := transport.Dial(ctx, transport.DialOptions{
		Addr:      addr,
		Websocket: cfg.Websocket,
		Secure:    joinFlags.secure,
	})
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	logger.WithFields(logrus.Fields{"addr": addr, "username": cfg.Username}).Info("connected")

	if joinFlags.headless {
		return joinHeadless(ctx, conn, cfg.Username, logger)
	}
	return joinTerminal(ctx, conn, cfg.Username, logger)
}

func joinHeadless(ctx context.Context, conn transport.Conn, username string, logger logrus.FieldLogger) error {
	console := client.NewConsole(os.Stdout)
	engine, err := client.NewEngine(conn, username, &pdfexport.Canvas{}, console, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer engine.Close()

	if err := engine.Join(); err != nil {
		return err
	}
	console.Infof("joined as %s, type to chat, /quit to leave", username)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = engine.Run(ctx)
		cancel()
	}()

	h := &client.Headless{Engine: engine, Console: console}
	return h.Run(ctx, os.Stdin)
}

func joinTerminal(ctx context.Context, conn transport.Conn, username string, logger logrus.FieldLogger) error {
	fs := afero.NewOsFs()
	ui := termui.New(termui.Options{
		Logger: logger,
		Export: func(log *replog.Log) (string, error) {
			path := fmt.Sprintf("whiteboard-%s.pdf", time.Now().Format("20060102-150405"))
			return path, pdfexport.Export(fs, path, log, pdfexport.Options{Title: "whiteboard", Author: username})
		},
	})

	engine, err := client.NewEngine(conn, username, ui.Surface(), ui, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer engine.Close()

	if err := engine.Join(); err != nil {
		return err
	}

	if err := ui.Run(ctx, engine); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	color.Green("exiting session.")
	return nil
}
