package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/shouni/bfl-image-kit/pkg/generator"
	"github.com/shouni/bfl-image-kit/pkg/nodes"
)

// jobFile は batch の入力ファイルです。
//
//	jobs:
//	  - family: flux
//	    prompt: a red fox in the snow
//	    aspect_ratio: "16:9"
type jobFile struct {
	Jobs []jobSpec `yaml:"jobs"`
}

// parseJobs はジョブファイルを読み、名前の無いジョブに一意な名前を付けます。
func parseJobs(data []byte) ([]jobSpec, error) {
	var f jobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ジョブファイルの解析に失敗しました: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, errors.New("job file has no jobs")
	}
	for i := range f.Jobs {
		if f.Jobs[i].Name == "" {
			f.Jobs[i].Name = "job-" + uuid.NewString()[:8]
		}
	}
	return f.Jobs, nil
}

// runJobs は limit 件までの並列度でジョブを実行します。投入は limiter で間隔を空けます。
// 1 件の失敗で他のジョブは止めず、結果は入力と同じ順序で返します。
func runJobs(ctx context.Context, jobs []*nodes.Node, gen generator.ImageGenerator, limit int, limiter *rate.Limiter) []summary {
	results := make([]summary, len(jobs))
	var mu sync.Mutex

	eg := new(errgroup.Group)
	eg.SetLimit(limit)
	for i, n := range jobs {
		eg.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				results[i] = newSummary(n, nil, err)
				mu.Unlock()
				return nil
			}
			out, err := n.Process(ctx, gen)
			if err != nil {
				slog.ErrorContext(ctx, "ジョブが失敗しました", "node", n.Name, "error", err)
			}
			mu.Lock()
			results[i] = newSummary(n, out, err)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	jobPath := fs.String("file", "", "Path to the YAML job file")
	concurrency := fs.Int("concurrency", 0, "Parallel jobs (default: batch.concurrency)")
	fs.Parse(args)

	if *jobPath == "" {
		return errors.New("-file is required")
	}
	data, err := os.ReadFile(*jobPath)
	if err != nil {
		return err
	}
	specs, err := parseJobs(data)
	if err != nil {
		return err
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	var problems []error
	jobs := make([]*nodes.Node, 0, len(specs))
	for _, spec := range specs {
		n, err := spec.node()
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", spec.Name, err))
			continue
		}
		problems = append(problems, n.ValidateBeforeRun(a.secrets)...)
		jobs = append(jobs, n)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s) found before run: %w", len(problems), errors.Join(problems...))
	}

	limit := a.cfg.Batch.Concurrency
	if *concurrency > 0 {
		limit = *concurrency
	}
	limiter := rate.NewLimiter(rate.Limit(a.cfg.Batch.SubmitRate), 1)
	slog.InfoContext(ctx, "バッチを開始します", "jobs", len(jobs), "concurrency", limit, "submit_rate", a.cfg.Batch.SubmitRate)

	results := runJobs(ctx, jobs, a.generator, limit, limiter)
	if err := writeJSON(os.Stdout, results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", failed, len(results))
	}
	return nil
}
