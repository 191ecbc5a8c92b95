package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"readapi/internal/instrument"
	"readapi/internal/metadata"
	"readapi/internal/node"
	"readapi/internal/query"
)

// Sources maps each backend to the data source serving it.
type Sources map[metadata.Backend]query.Source

type Options struct {
	Limits   Limits
	Formats  []string
	Recorder instrument.Recorder
	Logger   zerolog.Logger
}

// Service answers list and single-object queries: validate, fetch, then
// serialize. It holds no per-request state.
type Service struct {
	registry   *metadata.Registry
	sources    Sources
	validator  *Validator
	serializer *Serializer
	recorder   instrument.Recorder
	log        zerolog.Logger
}

func NewService(reg *metadata.Registry, sources Sources, opts Options) *Service {
	rec := opts.Recorder
	if rec == nil {
		rec = instrument.NoopRecorder{}
	}
	s := &Service{
		registry:  reg,
		sources:   sources,
		validator: NewValidator(opts.Limits, opts.Formats),
		recorder:  rec,
		log:       opts.Logger.With().Str("component", "engine").Logger(),
	}
	s.serializer = NewSerializer(func(entity, field string, err error) {
		rec.SerializationFailed(entity, field)
		s.log.Warn().Err(err).Str("entity", entity).Str("field", field).Msg("additional field failed")
	})
	return s
}

func (s *Service) Registry() *metadata.Registry { return s.registry }

// Resolve looks up an entity type by endpoint name.
func (s *Service) Resolve(name string) (*metadata.EntityType, error) {
	return s.registry.Resolve(name)
}

func (s *Service) source(et *metadata.EntityType) (query.Source, error) {
	src, ok := s.sources[et.Backend]
	if !ok {
		return nil, fmt.Errorf("no data source for backend %s", et.Backend)
	}
	return src, nil
}

// Validate checks list parameters without touching the store.
func (s *Service) Validate(et *metadata.EntityType, raw url.Values) (*query.FilterRequest, error) {
	req, err := s.validator.Validate(et, raw)
	if err != nil {
		var fe *FilterError
		if errors.As(err, &fe) {
			s.recorder.FilterRejected(et.Name, fe.Field)
		}
		return nil, err
	}
	return req, nil
}

// List runs a list query and returns the response envelope
// {meta: {offset, limit, total_count}, objects: [...]}.
func (s *Service) List(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) (*node.Node, error) {
	src, err := s.source(et)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var total int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := src.Count(gctx, et, req)
		if err != nil {
			return fmt.Errorf("count %s: %w", et.Name, err)
		}
		total = n
		return nil
	})

	objects := node.NewList()
	var iterErr error
	for row, err := range src.FetchMany(gctx, et, req) {
		if err != nil {
			iterErr = fmt.Errorf("fetch %s: %w", et.Name, err)
			break
		}
		n, err := s.serializer.SerializeWith(et, row, req.Embeds)
		if err != nil {
			iterErr = err
			break
		}
		objects.Append(Select(n, req.Fields))
	}
	if iterErr != nil {
		cancel()
	}
	// A failed count cancels gctx, so the fetch may only report the
	// cancellation; the count error is the cause.
	if err := g.Wait(); err != nil && (iterErr == nil || canceledBy(iterErr, err)) {
		iterErr = err
	}
	if iterErr != nil {
		s.storeFailed(et, iterErr)
		return nil, iterErr
	}

	meta := node.NewObject().
		Set("offset", node.NewScalar(req.Offset)).
		Set("limit", node.NewScalar(req.Limit)).
		Set("total_count", node.NewScalar(total))
	return node.NewObject().Set("meta", meta).Set("objects", objects), nil
}

// Get fetches and serializes one object, embedding single-only relations.
func (s *Service) Get(ctx context.Context, et *metadata.EntityType, id string, req *query.FilterRequest) (*node.Node, error) {
	src, err := s.source(et)
	if err != nil {
		return nil, err
	}
	embeds := Plan(et, true)
	row, err := src.FetchOne(ctx, et, id, embeds)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			return nil, NotFoundError(et.Name, id)
		}
		err = fmt.Errorf("get %s/%s: %w", et.Name, id, err)
		s.storeFailed(et, err)
		return nil, err
	}
	n, err := s.serializer.SerializeWith(et, row, embeds)
	if err != nil {
		s.storeFailed(et, err)
		return nil, err
	}
	return Select(n, req.Fields), nil
}

// ValidateSingle parses the parameters a single-object query honours:
// format, callback and fields.
func (s *Service) ValidateSingle(et *metadata.EntityType, raw url.Values) (*query.FilterRequest, error) {
	single := url.Values{}
	for _, key := range []string{ParamFormat, ParamCallback, ParamFields} {
		if v, ok := raw[key]; ok {
			single[key] = v
		}
	}
	return s.validator.Validate(et, single)
}

func (s *Service) storeFailed(et *metadata.EntityType, err error) {
	var serErr *SerializationError
	if errors.As(err, &serErr) {
		s.recorder.SerializationFailed(et.Name, serErr.Field)
		s.log.Error().Err(err).Str("entity", et.Name).Msg("serialization failed")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn().Err(err).Str("entity", et.Name).Msg("query abandoned")
		return
	}
	s.recorder.StoreFailed(et.Name, string(et.Backend))
	s.log.Error().Err(err).Str("entity", et.Name).Str("backend", string(et.Backend)).Msg("data source failed")
}

func canceledBy(fetchErr, countErr error) bool {
	return errors.Is(fetchErr, context.Canceled) && !errors.Is(countErr, context.Canceled)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
