package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mozhou-tech/photo-search-ai/pkg/config"
	"github.com/mozhou-tech/photo-search-ai/pkg/pipeline"
	"github.com/mozhou-tech/photo-search-ai/pkg/provider"
	"github.com/mozhou-tech/photo-search-ai/pkg/security"
	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/mozhou-tech/photo-search-ai/pkg/thumbnail"
	"github.com/sirupsen/logrus"
)

func thumbnailOptions(cfg *config.Config) thumbnail.Options {
	return thumbnail.Options{
		MaxWidth:  cfg.Thumbnail.MaxWidth,
		MaxHeight: cfg.Thumbnail.MaxHeight,
		Quality:   cfg.Thumbnail.Quality,
	}
}

// providerFlags 注册各命令共用的提供方参数
type providerFlags struct {
	kind, apiKey, model, baseURL *string
}

func addProviderFlags(fs *flag.FlagSet, defaultKind string) providerFlags {
	return providerFlags{
		kind:    fs.String("provider", defaultKind, "gemini, ollama, mistral or openrouter"),
		apiKey:  fs.String("api-key", "", "API key (overrides config)"),
		model:   fs.String("model", "", "model name (overrides config)"),
		baseURL: fs.String("base-url", "", "provider base URL (overrides config)"),
	}
}

func (f providerFlags) config(cfg *config.Config) (provider.Config, error) {
	pc, err := cfg.ProviderFor(*f.kind)
	if err != nil {
		return provider.Config{}, err
	}
	if key := security.SanitizeAPIKey(*f.apiKey); key != "" {
		pc.APIKey = key
	}
	if *f.model != "" {
		pc.Model = *f.model
	}
	if *f.baseURL != "" {
		pc.BaseURL = *f.baseURL
	}
	return pc, nil
}

func (a *app) scan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dir := fs.String("dir", "", "directory to scan (required)")
	folder := fs.String("folder", "", "folder display name (default: directory name)")
	pf := addProviderFlags(fs, a.cfg.Provider.Kind)
	fs.Parse(args)

	if *dir == "" {
		return errors.New("-dir is required")
	}
	pc, err := pf.config(a.cfg)
	if err != nil {
		return err
	}
	files, err := pipeline.ScanDir(*dir)
	if err != nil {
		return err
	}

	run, err := a.pipeline.Start(ctx, pipeline.Request{Files: files, FolderLabel: *folder, Provider: pc})
	if err != nil {
		return err
	}
	fmt.Printf("Scanning %s with %s (%d files)\n", *dir, pc.Kind, len(files))
	for s := range run.Progress() {
		fmt.Printf("\r%d/%d processed, %d skipped, %d errors", s.Processed, s.Total, s.Skipped, s.Errors)
	}
	fmt.Println()

	res := run.Wait()
	elapsed := res.Stats.FinishedAt.Sub(res.Stats.StartedAt).Round(time.Millisecond)
	fmt.Printf("Folder %q: %d described, %d skipped, %d errors, %d not started in %s\n",
		res.FolderPath, res.Summary.Processed-res.Summary.Skipped, res.Summary.Skipped,
		res.Summary.Errors, res.Summary.NotStarted, elapsed)
	if res.Invalid > 0 || res.Ignored > 0 {
		fmt.Printf("%d invalid, %d non-image files ignored\n", res.Invalid, res.Ignored)
		for _, r := range res.Rejections {
			fmt.Println("  " + r)
		}
	}
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	q := fs.String("q", "", "search query (empty lists recent photos)")
	fs.Parse(args)

	query := *q
	if query == "" && fs.NArg() > 0 {
		query = strings.Join(fs.Args(), " ")
	}
	query = security.LimitQuery(query)
	logrus.WithField("query", security.SanitizeQuery(query)).Debug("Search requested")

	results, err := a.engine.Rank(ctx, query)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tCLASS\tPATH\tDESCRIPTION")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.Photo.ID, r.Score, r.Photo.Classification, r.Photo.Path, truncate(r.Photo.Description, 60))
	}
	return w.Flush()
}

func (a *app) classes(ctx context.Context) error {
	classes, err := a.engine.Classifications(ctx)
	if err != nil {
		return err
	}
	for _, c := range classes {
		fmt.Println(c)
	}
	return nil
}

func (a *app) photos(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("photos", flag.ExitOnError)
	class := fs.String("class", "", "classification filter")
	folderID := fs.Uint("folder", 0, "folder id filter")
	fs.Parse(args)

	var (
		photos []store.Photo
		err    error
	)
	if *folderID > 0 {
		photos, err = a.engine.ByFolder(ctx, *folderID)
	} else {
		photos, err = a.engine.ByClassification(ctx, *class)
	}
	if err != nil {
		return err
	}
	printPhotos(photos)
	return nil
}

func (a *app) folders(ctx context.Context) error {
	folders, err := a.store.ListFolders(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tUPLOADED\tSTORED\tLAST SCANNED")
	for _, f := range folders {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n", f.ID, f.Name, f.Path, f.PhotoCount, f.StoredPhotos, humanize.Time(f.LastScanned))
	}
	return w.Flush()
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.Uint("id", 0, "photo id (required)")
	fs.Parse(args)

	if *id == 0 {
		return errors.New("-id is required")
	}
	if err := a.store.DeletePhoto(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("Deleted photo %d\n", *id)
	return nil
}

func (a *app) clear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm deleting all data")
	fs.Parse(args)

	if !*yes {
		return errors.New("refusing to clear without -yes")
	}
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("All photos and folders deleted")
	return nil
}

func (a *app) testProvider(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("test-provider", flag.ExitOnError)
	pf := addProviderFlags(fs, a.cfg.Provider.Kind)
	fs.Parse(args)

	pc, err := pf.config(a.cfg)
	if err != nil {
		return err
	}
	if err := provider.Check(ctx, pc); err != nil {
		return err
	}
	fmt.Printf("%s: connection ok\n", pc.Kind)
	return nil
}

func (a *app) models(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "OpenRouter API key (overrides config)")
	fs.Parse(args)

	pc, err := a.cfg.ProviderFor(string(provider.KindOpenRouter))
	if err != nil {
		return err
	}
	if key := security.SanitizeAPIKey(*apiKey); key != "" {
		pc.APIKey = key
	}
	ids, err := provider.ListFreeVisionModels(ctx, pc)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func printPhotos(photos []store.Photo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS\tSIZE\tADDED\tPATH")
	for _, p := range photos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Classification, humanize.Bytes(uint64(p.Size)), humanize.Time(p.CreatedAt), p.Path)
	}
	w.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
