package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/service"
)

const GachaServicePath = "/gacha.v1.GachaService/"

const (
	StartImportProcedure         = GachaServicePath + "StartImport"
	PollProcedure                = GachaServicePath + "Poll"
	GetLedgerProcedure           = GachaServicePath + "GetLedger"
	GetAccountStatProcedure      = GachaServicePath + "GetAccountStat"
	GetGlobalPercentileProcedure = GachaServicePath + "GetGlobalPercentile"
	GetViolationsProcedure       = GachaServicePath + "GetViolations"
)

type GachaServer struct {
	svc    *service.GachaService
	logger zerolog.Logger
}

func NewGachaServer(svc *service.GachaService, logger zerolog.Logger) *GachaServer {
	return &GachaServer{svc: svc, logger: logger}
}

// connectError maps domain failures onto RPC codes.
func connectError(err error) error {
	var (
		formatErr   *domain.FormatError
		categoryErr *domain.UnknownCategoryError
	)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, domain.ErrUnsupportedFormat), errors.As(err, &formatErr), errors.As(err, &categoryErr):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func invalid(err error) error {
	return connect.NewError(connect.CodeInvalidArgument, err)
}

func respond(m map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// StartImport takes {game, format, auth_key | document, lang, account_hint,
// ignore_timestamps}. A non-empty document selects document mode.
func (s *GachaServer) StartImport(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	msg := req.Msg
	game, err := domain.ParseGame(stringField(msg, "game"))
	if err != nil {
		return nil, invalid(err)
	}

	ir := service.ImportRequest{
		AccountHint: stringField(msg, "account_hint"),
		Source: service.SourceDescriptor{
			Game:    game,
			Format:  adapter.Format(stringField(msg, "format")),
			AuthKey: stringField(msg, "auth_key"),
			Lang:    stringField(msg, "lang"),
		},
		Mode:             service.ModeLive,
		IgnoreTimestamps: boolField(msg, "ignore_timestamps"),
	}
	if doc := stringField(msg, "document"); doc != "" {
		ir.Mode = service.ModeDocument
		ir.Document = []byte(doc)
	}
	if ir.Source.Format == "" {
		ir.Source.Format = adapter.FormatOfficial
	}

	id, err := s.svc.StartImport(ctx, ir)
	if err != nil {
		return nil, connectError(err)
	}
	return respond(map[string]any{"job_id": id})
}

func (s *GachaServer) Poll(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	job, err := s.svc.Poll(stringField(req.Msg, "job_id"))
	if err != nil {
		return nil, connectError(err)
	}
	return respond(jobToMap(job))
}

func accountAndCategory(msg *structpb.Struct) (int64, domain.Category, error) {
	accountID, err := idField(msg, "account_id")
	if err != nil {
		return 0, 0, err
	}
	category, err := categoryField(msg, "category")
	if err != nil {
		return 0, 0, err
	}
	return accountID, category, nil
}

func (s *GachaServer) GetLedger(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	accountID, category, err := accountAndCategory(req.Msg)
	if err != nil {
		return nil, invalid(err)
	}

	pulls, err := s.svc.GetLedger(ctx, accountID, category)
	if err != nil {
		return nil, connectError(err)
	}
	list := make([]any, len(pulls))
	for i, p := range pulls {
		list[i] = pullToMap(p)
	}
	return respond(map[string]any{"pulls": list})
}

// GetAccountStat answers {found: false} rather than an error when nothing
// has been computed yet.
func (s *GachaServer) GetAccountStat(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	accountID, category, err := accountAndCategory(req.Msg)
	if err != nil {
		return nil, invalid(err)
	}

	stat, ok, err := s.svc.GetAccountStat(ctx, accountID, category)
	if err != nil {
		return nil, connectError(err)
	}
	if !ok {
		return respond(map[string]any{"found": false})
	}
	return respond(map[string]any{"found": true, "stat": statToMap(stat)})
}

func (s *GachaServer) GetGlobalPercentile(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	accountID, category, err := accountAndCategory(req.Msg)
	if err != nil {
		return nil, invalid(err)
	}

	p, ok, err := s.svc.GetGlobalPercentile(ctx, accountID, category)
	if err != nil {
		return nil, connectError(err)
	}
	if !ok {
		return respond(map[string]any{"found": false})
	}
	return respond(map[string]any{"found": true, "percentile": percentileToMap(p)})
}

func (s *GachaServer) GetViolations(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	accountID, category, err := accountAndCategory(req.Msg)
	if err != nil {
		return nil, invalid(err)
	}

	records, err := s.svc.GetViolations(ctx, accountID, category)
	if err != nil {
		return nil, connectError(err)
	}
	list := make([]any, len(records))
	for i, r := range records {
		list[i] = violationToMap(r)
	}
	return respond(map[string]any{"violations": list})
}
