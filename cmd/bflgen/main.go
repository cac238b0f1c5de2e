// bflgen は BFL FLUX の画像生成をコマンドラインから実行します。
//
// 使用方法:
//
//	bflgen generate -family flux -prompt "a red fox"   # 1 枚生成
//	bflgen batch -file jobs.yaml                       # YAML のジョブを並列に生成
//	bflgen options -family kontext_image_edit          # 選択肢を表示
//	bflgen version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "options":
		err = runOptions(os.Args[2:])
	case "version":
		fmt.Printf("bflgen %s (%s)\n", Version, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: bflgen <command> [flags]

Commands:
  generate   Generate one image
  batch      Generate every job of a YAML job file
  options    Show the models, aspect ratios and safety levels of a family
  version    Show version information

Run "bflgen <command> -h" for the flags of a command.`)
}
