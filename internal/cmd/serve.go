package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/convstore"
	"github.com/loomhq/loom/internal/fork"
	"github.com/loomhq/loom/internal/handlers"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Loom API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":6380", "address to listen on")
	serveCmd.Flags().StringVar(&config.Runtime.StateDir, "state-dir", config.Runtime.StateDir, "directory for conversation state")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := convstore.NewStore(config.Runtime.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	resolver := fork.NewResolver(store)
	registry := session.NewRegistry(store)
	monitor := session.NewMonitor()
	defer monitor.StopAll()

	app := NewApp(store, resolver, registry, monitor)

	// Shut down cleanly on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Received %s, shutting down", sig)
		_ = app.Shutdown()
	}()

	logger.Infof("Loom listening on %s (state dir %s)", serveAddr, config.Runtime.StateDir)
	return app.Listen(serveAddr)
}

// NewApp assembles the fiber application and its routes
func NewApp(store *convstore.Store, resolver *fork.Resolver, registry *session.Registry, monitor *session.Monitor) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "loom",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	conversations := handlers.NewConversationsHandler(store, resolver)
	threads := handlers.NewThreadsHandler(registry)
	activity := handlers.NewActivityHandler(monitor)

	v1 := app.Group("/v1")
	v1.Get("/conversations/:id/turns", conversations.GetTurns)
	v1.Get("/conversations/:id/events", conversations.GetEvents)
	v1.Post("/conversations/:id/messages", conversations.RecordMessage)
	v1.Post("/conversations/:id/fork", conversations.ResolveFork)

	v1.Get("/conversations/:id/threads", threads.ListThreads)
	v1.Post("/conversations/:id/threads", threads.GetOrCreateThread)
	v1.Get("/conversations/:id/threads/:key", threads.GetThread)
	v1.Post("/conversations/:id/threads/:key/activate", threads.ActivateThread)
	v1.Post("/conversations/:id/threads/:key/configure", threads.ConfigureThread)
	v1.Delete("/conversations/:id/threads/:key", threads.ArchiveThread)

	v1.Post("/conversations/:id/tail", activity.StartTail)
	v1.Delete("/conversations/:id/tail", activity.StopTail)
	v1.Get("/conversations/:id/activity", activity.GetActivity)
	v1.Get("/conversations/:id/activity/retained", activity.GetRetainedActivity)
	v1.Get("/conversations/:id/activity/ws", activity.StreamActivity)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
