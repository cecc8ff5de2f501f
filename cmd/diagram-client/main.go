// diagram-client joins a diagram as one participant and logs what the
// other participants change. It is a headless stand-in for the editor:
// the replica, mutation layer, reconciler and save coordinator all run
// exactly as they would behind a canvas.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"diagramsync/application/mutation"
	"diagramsync/application/persistence"
	"diagramsync/application/session"
	domainconfig "diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/valueobjects"
	"diagramsync/infrastructure/channel"
	"diagramsync/infrastructure/persistence/httpclient"
	"diagramsync/pkg/auth"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	server   string
	document string
	user     string
	name     string
	token    string
	secret   string
	issuer   string
	audience []string
	create   bool
	addNode  string
	env      string
	verbose  bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("diagram-client", pflag.ContinueOnError)
	flagSet.StringVar(&opts.server, "server", "http://localhost:8080", "diagramsync server base URL")
	flagSet.StringVarP(&opts.document, "document", "d", "", "document ID to join")
	flagSet.StringVarP(&opts.user, "user", "u", "", "user ID")
	flagSet.StringVar(&opts.name, "name", "", "display name (default: user ID)")
	flagSet.StringVar(&opts.token, "token", "", "bearer token")
	flagSet.StringVar(&opts.secret, "secret", "", "HMAC secret used to mint a token when --token is not set")
	flagSet.StringVar(&opts.issuer, "issuer", "diagramsync", "issuer for minted tokens")
	flagSet.StringSliceVar(&opts.audience, "audience", []string{"diagramsync-api"}, "audience for minted tokens")
	flagSet.BoolVar(&opts.create, "create", false, "create the document before joining")
	flagSet.StringVar(&opts.addNode, "add-node", "", "create a node with this name after joining")
	flagSet.StringVar(&opts.env, "environment", "development", "environment whose domain limits apply")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w\n\n%s", err, flagSet.FlagUsages())
	}
	if opts.user == "" {
		return errors.New("--user is required")
	}
	if opts.document == "" && !opts.create {
		return errors.New("--document is required unless --create is set")
	}
	if opts.name == "" {
		opts.name = opts.user
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	identity := auth.Identity{UserID: opts.user, DisplayName: opts.name}
	token, err := resolveToken(opts, identity)
	if err != nil {
		return err
	}

	domain := domainconfig.LoadDomainConfig(opts.env)
	store, err := httpclient.NewDocumentStore(httpclient.StoreConfig{
		BaseURL: opts.server,
		Token:   token,
	}, domain, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.create {
		created, err := store.Create(ctx, opts.document, "")
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		opts.document = created.ID
		logger.Info("Created document", zap.String("documentId", created.ID))
	}
	documentID, err := valueobjects.NewDocumentIDFromString(opts.document)
	if err != nil {
		return err
	}

	ch, err := channel.NewWebSocketChannel(channel.ClientConfig{
		URL:   websocketURL(opts.server),
		Token: token,
	}, logger)
	if err != nil {
		return err
	}

	s, err := session.Open(ctx, store, ch, documentID, identity, domain, logger)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.Close()

	s.SetObserver(session.ObserverFunc(func(origin string, kind aggregates.EnvelopeKind) {
		if origin == identity.UserID {
			return
		}
		g := s.Graph()
		logger.Info("Remote change applied",
			zap.String("from", origin),
			zap.String("kind", string(kind)),
			zap.Int("nodes", g.NodeCount()),
			zap.Int("edges", g.EdgeCount()),
		)
	}))
	s.OnSaved(func(r persistence.Result) {
		if r.Err != nil {
			logger.Warn("Save failed", zap.Error(r.Err))
			return
		}
		logger.Info("Saved", zap.Uint64("version", r.Version), zap.Duration("duration", r.Duration))
	})
	s.Start(ctx)

	g := s.Graph()
	logger.Info("Joined document",
		zap.String("documentId", documentID.String()),
		zap.String("userId", identity.UserID),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
	)

	if opts.addNode != "" {
		node, err := s.Mutations().CreateNode(mutation.NodeSpec{Name: opts.addNode})
		if err != nil {
			return fmt.Errorf("add node: %w", err)
		}
		logger.Info("Created node", zap.String("nodeId", node.ID().String()))
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.Status().Dirty {
				saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.Save(saveCtx); err != nil {
					logger.Warn("Final save failed", zap.Error(err))
				}
				saveCancel()
			}
			logger.Info("Leaving document")
			return nil
		case <-ticker.C:
			status := s.Status()
			logger.Debug("Status",
				zap.Bool("connected", status.Connected),
				zap.Bool("dirty", status.Dirty),
				zap.Uint64("version", status.Version),
				zap.Int("participants", len(s.Participants())),
			)
		}
	}
}

func resolveToken(opts options, identity auth.Identity) (string, error) {
	if opts.token != "" {
		return opts.token, nil
	}
	if opts.secret == "" {
		return "", errors.New("either --token or --secret is required")
	}
	return auth.NewJWTIssuer(opts.secret, opts.issuer, opts.audience, 12*time.Hour).Issue(identity)
}

func websocketURL(server string) string {
	server = strings.TrimSuffix(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	}
	return server + "/ws"
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
