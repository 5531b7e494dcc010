/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kagescan/internal/api"
	"kagescan/internal/config"
	"kagescan/internal/crash"
	"kagescan/internal/domain"
	"kagescan/internal/export"
	"kagescan/internal/journal"
	applog "kagescan/internal/log"
	"kagescan/internal/pipeline"
	"kagescan/internal/store"
	"kagescan/internal/telemetry"
	"kagescan/internal/ui"
	"kagescan/internal/version"
)

func usage() {
	fmt.Println("Kage Scan — manga translation editor")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kagescan version|-v|--version              Show version")
	fmt.Println("  kagescan projects                          List projects on the backend")
	fmt.Println("  kagescan show <id>                         Print a project summary")
	fmt.Println("  kagescan upload <file.zip> [name]          Create a project from a chapter archive")
	fmt.Println("  kagescan save <id>                         Flush journaled local edits to the backend")
	fmt.Println("  kagescan pipeline <id>                     Run the translation pipeline and wait")
	fmt.Println("  kagescan export <id> [dir]                 Download the translated archive")
	fmt.Println("  kagescan convert <in.zip> <out.cbz|.pdf>   Convert an exported archive")
	fmt.Println("  kagescan settings                          Show backend AI provider settings")
	fmt.Println("  kagescan ui [<id>]                         Launch desktop UI (build with -tags fyne)")
}

func newClient() *api.Client {
	cfg, _, _ := config.Load()
	return api.NewClient(api.Options{
		BaseURL:           cfg.Backend.BaseURL,
		Timeout:           time.Duration(cfg.Backend.TimeoutMs) * time.Millisecond,
		TLSInsecure:       cfg.Backend.TLSInsecure,
		ValidateResponses: cfg.Backend.ValidateResponses,
	})
}

func fail(l *slog.Logger, msg string, err error) {
	l.Error(msg, slog.Any("err", err))
	fmt.Println("Error:", err)
	os.Exit(1)
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	cc := crash.Context{}
	defer func() { crash.Recover(cc) }()

	ctx := context.Background()
	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) > 1 {
		switch args[1] {
		case "version", "--version", "-v":
			fmt.Println("Kage Scan — manga translation editor")
			fmt.Println(version.String())
			return
		case "projects":
			client := newClient()
			items, err := client.ListProjects(ctx)
			if err != nil {
				fail(l, "list projects failed", err)
			}
			for _, p := range items {
				fmt.Printf("%s  %-24s %s->%s  %s  %d pages\n",
					p.ID, p.Name, p.SourceLanguage, p.TargetLanguage, p.Status, p.PageCount)
			}
			return
		case "show":
			if len(args) < 3 {
				fmt.Println("show requires <id>")
				usage()
				os.Exit(2)
			}
			cc.ProjectID = args[2]
			client := newClient()
			p, err := client.GetProject(ctx, args[2])
			if err != nil {
				fail(l, "get project failed", err)
			}
			fmt.Printf("Project: %s (%s)\n", p.Name, p.Status)
			fmt.Printf("Languages: %s -> %s\n", p.SourceLanguage, p.TargetLanguage)
			fmt.Printf("Pages: %d\n", len(p.Pages))
			for _, pg := range p.Pages {
				fmt.Printf("  %3d %-32s %-12s %d blocks\n", pg.PageNumber, pg.Filename, pg.Status, len(pg.TextBlocks))
			}
			return
		case "upload":
			if len(args) < 3 {
				fmt.Println("upload requires <file.zip>")
				usage()
				os.Exit(2)
			}
			file := args[2]
			name := store.AutoName(file)
			if len(args) >= 4 {
				name = args[3]
			}
			cfg, _, _ := config.Load()
			client := newClient()
			l.Info("upload", slog.String("file", file), slog.String("name", name))
			p, err := client.CreateProject(ctx, api.UploadRequest{
				Name:           name,
				SourceLanguage: cfg.General.SourceLanguage,
				TargetLanguage: cfg.General.TargetLanguage,
				File:           file,
				Progress:       func(pct int) { fmt.Printf("\rUploading... %d%%", pct) },
			})
			fmt.Println()
			if err != nil {
				fail(l, "upload failed", err)
			}
			telemetry.ChapterUploaded(len(p.Pages))
			fmt.Printf("Created project %s (%d pages)\n", p.ID, len(p.Pages))
			return
		case "save":
			if len(args) < 3 {
				fmt.Println("save requires <id>")
				usage()
				os.Exit(2)
			}
			cc.ProjectID = args[2]
			cfgPath, err := config.ConfigPath()
			if err != nil {
				fail(l, "resolve data dir failed", err)
			}
			jnl, err := journal.Open(filepath.Dir(cfgPath))
			if err != nil {
				fail(l, "open edit journal failed", err)
			}
			defer jnl.Close()
			n, err := jnl.Flush(ctx, args[2], newClient())
			if err != nil {
				fail(l, "flush failed", err)
			}
			fmt.Printf("Flushed %d edits\n", n)
			return
		case "pipeline":
			if len(args) < 3 {
				fmt.Println("pipeline requires <id>")
				usage()
				os.Exit(2)
			}
			cc.ProjectID = args[2]
			client := newClient()
			poller := pipeline.NewPoller(client, 0)
			poller.OnStatus = func(s domain.PipelineStatus) {
				fmt.Printf("\r%s %d/%d pages", s.ProjectStatus, s.PageStatuses.Done(), s.TotalPages)
			}
			started := time.Now()
			final, err := poller.Run(ctx, args[2])
			fmt.Println()
			if err != nil {
				fail(l, "pipeline failed", err)
			}
			telemetry.PipelineFinished(final.ProjectStatus, time.Since(started))
			fmt.Println("Pipeline finished:", final.ProjectStatus)
			return
		case "export":
			if len(args) < 3 {
				fmt.Println("export requires <id>")
				usage()
				os.Exit(2)
			}
			cc.ProjectID = args[2]
			client := newClient()
			p, err := client.GetProject(ctx, args[2])
			if err != nil {
				fail(l, "get project failed", err)
			}
			dir := "."
			if len(args) >= 4 {
				dir = args[3]
			}
			pr, pw := io.Pipe()
			var n int64
			var dlErr error
			go func() {
				n, dlErr = client.ExportProject(ctx, p.ID, pw)
				pw.CloseWithError(dlErr)
			}()
			path, err := export.SaveArchive(dir, p.Name, pr)
			if err == nil {
				err = dlErr
			}
			if err != nil {
				fail(l, "export failed", err)
			}
			telemetry.ProjectExported(n)
			fmt.Printf("Exported %d bytes to %s\n", n, path)
			return
		case "convert":
			if len(args) < 4 {
				fmt.Println("convert requires <in.zip> and <out.cbz|.pdf>")
				usage()
				os.Exit(2)
			}
			in, out := args[2], args[3]
			title := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
			var err error
			switch strings.ToLower(filepath.Ext(out)) {
			case ".cbz":
				err = export.ConvertZipToCBZ(in, out, export.CBZOptions{Title: title, RightToLeft: true})
			case ".pdf":
				err = export.ConvertZipToPDF(in, out, export.PDFOptions{Title: title})
			default:
				err = fmt.Errorf("unsupported output format %q (use .cbz or .pdf)", filepath.Ext(out))
			}
			if err != nil {
				fail(l, "convert failed", err)
			}
			fmt.Println("Wrote", out)
			return
		case "settings":
			client := newClient()
			s, err := client.GetSettings(ctx)
			if err != nil {
				fail(l, "get settings failed", err)
			}
			fmt.Println("Provider:        ", s.Provider)
			fmt.Println("OpenRouter model:", s.OpenRouterModel)
			fmt.Println("OpenRouter key:  ", s.OpenRouterKey)
			fmt.Println("Copilot model:   ", s.CopilotModel)
			fmt.Println("Copilot auth:    ", s.CopilotAuthenticated)
			return
		case "ui":
			var id string
			if len(args) >= 3 {
				id = args[2]
			}
			if err := ui.Run(id); err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			return
		}
	}

	usage()
}
