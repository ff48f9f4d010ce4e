package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/haivivi/speakerid/cmd/speakerid/internal/config"
	"github.com/haivivi/speakerid/pkg/conversation"
	"github.com/haivivi/speakerid/pkg/convlock"
	"github.com/haivivi/speakerid/pkg/diarize"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/jobs"
	"github.com/haivivi/speakerid/pkg/kv"
	"github.com/haivivi/speakerid/pkg/rebind"
	"github.com/haivivi/speakerid/pkg/storage"
	"github.com/haivivi/speakerid/pkg/vecstore"
	"github.com/haivivi/speakerid/pkg/voicedb"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// errNoEmbedding is returned by the model when no sidecar is configured.
var errNoEmbedding = errors.New("embedding endpoint not configured (set embedding.endpoint or SPEAKERID_EMBEDDING_ENDPOINT)")

// Test hooks. When set they replace the configured backends.
var (
	testKVOverride    kv.Store
	testModelOverride voiceprint.Model
)

// Key prefixes within the kv store.
var (
	voicedbPrefix = kv.Key{"voicedb"}
	jobsPrefix    = kv.Key{"jobs"}
)

// app holds the components shared by commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	kv       kv.Store
	ownsKV   bool
	files    storage.FileStore
	library  *conversation.Library
	vectors  vecstore.Store
	model    voiceprint.Model
	matcher  *identity.Matcher
	resolver *conversation.Resolver
	voicedb  *voicedb.DB
	jobs     *jobs.Store
	locker   *convlock.Locker
	rebinder *rebind.Rebinder
}

// openApp wires every component from the global configuration. Close
// releases the kv store.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger}

	if a.files, err = openFiles(ctx, cfg.Library); err != nil {
		return nil, err
	}
	if testKVOverride != nil {
		a.kv = testKVOverride
	} else {
		store, err := kv.NewBadger(kv.BadgerOptions{
			Dir:      cfg.VoiceDB.Dir,
			InMemory: cfg.VoiceDB.InMemory,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		a.kv, a.ownsKV = store, true
	}

	th := cfg.Thresholds
	var libOpts []conversation.LibraryOption
	if cfg.Library.Groups == config.GroupsKV {
		libOpts = append(libOpts, conversation.WithKVGroups(a.kv))
	}
	a.library = conversation.NewLibrary(a.files, libOpts...)
	a.vectors = vecstore.NewKV(a.kv, voicedbPrefix)
	a.model = openModel(cfg.Embedding, logger)
	a.matcher = identity.NewMatcher(identity.MatcherConfig{
		Store:         a.vectors,
		Dimension:     a.model.Dimension(),
		Threshold:     th.Match,
		ShortDuration: th.Short,
		Logger:        logger,
	})
	a.resolver = conversation.NewResolver(conversation.ResolverConfig{
		Model:       a.model,
		Matcher:     a.matcher,
		MinDuration: th.CombinedMin,
		Threshold:   th.Match,
		Logger:      logger,
	})
	a.voicedb = voicedb.New(voicedb.Config{
		Store:              a.vectors,
		Model:              a.model,
		DuplicateThreshold: th.DuplicateCurated,
		Logger:             logger,
	})
	a.jobs = jobs.NewStore(a.kv, jobsPrefix)
	a.locker = convlock.New(cfg.Process.LockDir, convlock.WithLogger(logger))
	a.rebinder = rebind.New(rebind.Config{
		Library:  a.library,
		Enroller: a.voicedb,
		Locker:   a.locker,
		Logger:   logger,
	})
	return a, nil
}

// Close releases resources held by the app.
func (a *app) Close() error {
	if a.ownsKV {
		return a.kv.Close()
	}
	return nil
}

// gate returns the verification gate configured for unattended growth.
func (a *app) gate() identity.Gate {
	g := identity.NewGate(identity.FirstEnrollmentReject)
	g.AvgThreshold = a.cfg.Thresholds.VerifyAvg
	g.MaxThreshold = a.cfg.Thresholds.VerifyMax
	return g
}

// processor builds a Processor around d.
func (a *app) processor(d diarize.Diarizer, autoUpdate bool) *conversation.Processor {
	th := a.cfg.Thresholds
	return conversation.NewProcessor(conversation.ProcessorConfig{
		Library:              a.library,
		Diarizer:             d,
		Model:                a.model,
		Store:                a.vectors,
		Matcher:              a.matcher,
		Resolver:             a.resolver,
		AutoUpdate:           autoUpdate,
		AutoUpdateConfidence: th.AutoUpdate,
		DuplicateThreshold:   th.DuplicateAutomatic,
		Gate:                 a.gate(),
		ShortDuration:        th.Short,
		Locker:               a.locker,
		Logger:               a.logger,
	})
}

// diarizer returns the configured provider. A segments file always wins
// and is required for the static provider.
func (a *app) diarizer(segments string) (diarize.Diarizer, error) {
	if segments != "" {
		return diarize.LoadStatic(segments)
	}
	dc := a.cfg.Diarizer
	switch dc.Provider {
	case config.DiarizerStatic:
		return nil, errors.New("static diarizer requires --segments")
	default:
		if dc.APIKey == "" {
			return nil, errors.New("diarizer api key not configured (set diarizer.api_key or SPEAKERID_DIARIZER_API_KEY)")
		}
		return diarize.NewAssemblyAI(diarize.AssemblyAIConfig{
			APIKey:       dc.APIKey,
			LanguageCode: dc.LanguageCode,
			Logger:       a.logger,
		}), nil
	}
}

func openFiles(ctx context.Context, lc config.LibraryConfig) (storage.FileStore, error) {
	if lc.Backend != config.BackendS3 {
		local, err := storage.NewLocal(lc.Root)
		if err != nil {
			return nil, err
		}
		return local, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if lc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(lc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if lc.Endpoint != "" {
			o.BaseEndpoint = aws.String(lc.Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3(client, lc.Bucket, lc.Prefix), nil
}

func openModel(ec config.EmbeddingConfig, logger *slog.Logger) voiceprint.Model {
	if testModelOverride != nil {
		return testModelOverride
	}
	if ec.Endpoint == "" {
		return voiceprint.Func{
			Dim: ec.Dimension,
			Fn: func(context.Context, []byte) ([]float32, error) {
				return nil, errNoEmbedding
			},
		}
	}
	remote := voiceprint.NewRemote(ec.Endpoint,
		voiceprint.WithDimension(ec.Dimension),
		voiceprint.WithMaxElapsed(ec.MaxElapsed),
		voiceprint.WithHTTPClient(&http.Client{Timeout: ec.Timeout}),
		voiceprint.WithLogger(logger),
	)
	return voiceprint.NewRateLimited(remote, ec.RateLimit, ec.Burst)
}
