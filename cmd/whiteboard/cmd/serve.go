package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"whiteboard/config"
	"whiteboard/logging"
	"whiteboard/server"
)

var serveFlags struct {
	listen       string
	http         string
	sendBuffer   int
	maxLine      int
	writeTimeout time.Duration
	advertise    bool
	logFormat    string
	logLevel     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the whiteboard relay",
	RunE:  runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "TCP address participants connect to (WHITEBOARD_LISTEN_ADDR)")
	f.StringVar(&serveFlags.http, "http", "", `admin and websocket address, "off" to disable (WHITEBOARD_HTTP_ADDR)`)
	f.IntVar(&serveFlags.sendBuffer, "send-buffer", 0, "lines queued per participant before it is dropped (WHITEBOARD_SEND_BUFFER)")
	f.IntVar(&serveFlags.maxLine, "max-line", 0, "longest accepted line in bytes (WHITEBOARD_MAX_LINE_BYTES)")
	f.DurationVar(&serveFlags.writeTimeout, "write-timeout", 0, "deadline for each write to a participant (WHITEBOARD_WRITE_TIMEOUT)")
	f.BoolVar(&serveFlags.advertise, "advertise", false, "announce the relay over mDNS (WHITEBOARD_ADVERTISE)")
	f.StringVar(&serveFlags.logFormat, "log-format", "", "text or json (WHITEBOARD_LOG_FORMAT)")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "trace, debug, info, warn or error (WHITEBOARD_LOG_LEVEL)")
}

func serverConfig(cmd *cobra.Command) (config.Server, error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.ListenAddr = serveFlags.listen
	}
	if f.Changed("http") {
		cfg.HTTPAddr = serveFlags.http
	}
	if f.Changed("send-buffer") {
		cfg.SendBuffer = serveFlags.sendBuffer
	}
	if f.Changed("max-line") {
		cfg.MaxLineBytes = serveFlags.maxLine
	}
	if f.Changed("write-timeout") {
		cfg.WriteTimeout = serveFlags.writeTimeout
	}
	if f.Changed("advertise") {
		cfg.Advertise = serveFlags.advertise
	}
	if f.Changed("log-format") {
		cfg.LogFormat = serveFlags.logFormat
	}
	if f.Changed("log-level") {
		cfg.LogLevel = serveFlags.logLevel
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serverConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	srv := server.New(server.Config{
		ListenAddr:   cfg.ListenAddr,
		HTTPAddr:     cfg.HTTPListenAddr(),
		SendBuffer:   cfg.SendBuffer,
		MaxLineBytes: cfg.MaxLineBytes,
		WriteTimeout: cfg.WriteTimeout,
		Advertise:    cfg.Advertise,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return err
	}
	color.Green("whiteboard relay listening on %s", srv.Addr())
	if addr := srv.HTTPAddr(); addr != nil {
		color.Green("admin and websocket endpoint on http://%s", addr)
	}

	<-ctx.Done()
	color.Yellow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
