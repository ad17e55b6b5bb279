package internal

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/rendezvous/internal/core"
	"github.com/dcrodman/rendezvous/internal/core/data"
	"github.com/dcrodman/rendezvous/internal/core/debug"
	"github.com/dcrodman/rendezvous/internal/rendezvous"
)

const defaultHostPollInterval = 50 * time.Millisecond

// Controller is the main entrypoint for the rendezvous server. It's responsible
// for initializing any shared resources (such as database and logging), creating
// the server, queueing the configured clients and driving the host loop.
type Controller struct {
	Config *core.Config
	// Out receives the host console output. Defaults to color.Output.
	Out io.Writer

	logger *logrus.Logger
	db     *gorm.DB
	debug  *debug.Utilities
	server *rendezvous.Server
}

// Start runs the server until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by the server and its connections.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	c.logger.Debugf("loaded config:\n%s", spew.Sdump(c.Config))
	defer c.shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		c.debug = debug.StartUtilities(c.logger, c.Config.Debugging.Port, reg)
	}

	opts := []rendezvous.Option{
		rendezvous.WithLogger(c.logger),
		rendezvous.WithMetrics(rendezvous.NewMetrics(reg)),
		rendezvous.WithConnectionOptions(rendezvous.ConnectionOptions{
			MTU:               c.Config.Connection.MTU,
			KeepAlive:         c.Config.Connection.KeepAlive,
			KeepAliveInterval: c.Config.Connection.KeepAliveInterval,
		}),
		rendezvous.WithAcceptPollInterval(c.Config.Server.AcceptPollInterval),
	}

	if c.Config.HistoryEnabled() {
		c.db, err = data.Open(c.Config.Database.Engine, c.dataSource(), c.logger.IsLevelEnabled(logrus.DebugLevel))
		if err != nil {
			return fmt.Errorf("error initializing session history: %w", err)
		}
		opts = append(opts, rendezvous.WithJournal(&sessionJournal{db: c.db}))
	}

	name := c.Config.Server.Name
	c.server, err = rendezvous.Create(name, rendezvous.Config{
		BindAddress: c.Config.Server.BindAddress,
		Port:        c.Config.Server.Port,
	}, opts...)
	if err != nil {
		return fmt.Errorf("error creating %s server: %w", name, err)
	}
	defer c.server.Stop(false)

	backlog := c.Config.Server.Backlog
	if len(c.Config.Clients) > backlog {
		c.logger.Infof("raising backlog from %d to %d to fit the configured clients", backlog, len(c.Config.Clients))
		backlog = len(c.Config.Clients)
	}
	c.server.StartListening(backlog)

	for _, client := range c.Config.Clients {
		if !c.server.RegisterAcceptIntent(client, c.clientConnected) {
			c.logger.Warnf("unable to queue client %s", client)
		}
	}

	c.logger.Infof("%s waiting for %d client(s) on %v", name, len(c.Config.Clients), c.server.Addr())
	c.runHostLoop(ctx)
	return nil
}

func (c *Controller) dataSource() string {
	if c.Config.Database.Engine == data.EngineSQLite {
		return c.Config.Database.Filename
	}
	return c.Config.DatabaseURL()
}

func (c *Controller) shutdown() {
	if c.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.debug.Shutdown(ctx); err != nil {
			c.logger.Warnf("error stopping debug server: %v", err)
		}
	}
	if c.db != nil {
		if err := data.Close(c.db); err != nil {
			c.logger.Warnf("error closing database: %v", err)
		}
	}
}

func (c *Controller) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return color.Output
}
