package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/archive"
	"gacha-ledger/internal/domain"
	fxmodules "gacha-ledger/internal/fx"
	"gacha-ledger/internal/service"
)

type importOptions struct {
	game             string
	format           string
	file             string
	fromArchive      string
	authKey          string
	lang             string
	accountHint      string
	ignoreTimestamps bool
}

func newImportCommand() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import pull history from a document, the archive or the official API",
		Long: "Imports one account's pull history and waits for the job to finish.\n" +
			"With --file or --from-archive the document is read locally; with\n" +
			"--auth-key the official history endpoint is walked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.game, "game", "", "game: hsr, genshin or zzz")
	cmd.Flags().StringVar(&opts.format, "format", string(adapter.FormatOfficial), "document format")
	cmd.Flags().StringVar(&opts.file, "file", "", "path of a history document")
	cmd.Flags().StringVar(&opts.fromArchive, "from-archive", "", "object name of an archived document")
	cmd.Flags().StringVar(&opts.authKey, "auth-key", "", "auth key for a live import")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "language for a live import")
	cmd.Flags().StringVar(&opts.accountHint, "account", "", "account uid when the document holds several")
	cmd.Flags().BoolVar(&opts.ignoreTimestamps, "ignore-timestamps", false, "merge entries older than the newest stored pull")
	_ = cmd.MarkFlagRequired("game")
	cmd.MarkFlagsMutuallyExclusive("file", "from-archive", "auth-key")

	return cmd
}

func runImport(ctx context.Context, opts *importOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	game, err := domain.ParseGame(opts.game)
	if err != nil {
		return err
	}

	var (
		svc      *service.GachaService
		importer *service.Importer
		docs     *archive.Archive
		logger   zerolog.Logger
	)
	app := fx.New(
		fxmodules.Module,
		fx.NopLogger,
		fx.Populate(&svc, &importer, &docs, &logger),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	req := service.ImportRequest{
		AccountHint: opts.accountHint,
		Source: service.SourceDescriptor{
			Game:    game,
			Format:  adapter.Format(opts.format),
			AuthKey: opts.authKey,
			Lang:    opts.lang,
		},
		Mode:             service.ModeLive,
		IgnoreTimestamps: opts.ignoreTimestamps,
	}

	switch {
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", opts.file, err)
		}
		req.Mode, req.Document = service.ModeDocument, data
	case opts.fromArchive != "":
		if docs == nil {
			return errors.New("archive is not configured")
		}
		data, err := docs.Load(ctx, opts.fromArchive)
		if err != nil {
			return err
		}
		req.Mode, req.Document = service.ModeDocument, data
	}

	jobID, err := svc.StartImport(ctx, req)
	if err != nil {
		return err
	}
	importer.Wait()

	job, err := svc.Poll(jobID)
	if err != nil {
		return err
	}
	ev := logger.Info()
	if job.Status == domain.StatusError {
		ev = logger.Error()
	}
	ev.Str("job_id", job.ID).
		Int64("account_id", job.AccountID).
		Str("status", string(job.Status)).
		Str("reason", job.Reason).
		Msg("import complete")

	if job.Status == domain.StatusError {
		return fmt.Errorf("import %s failed: %s", job.ID, job.Reason)
	}
	return nil
}
