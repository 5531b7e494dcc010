//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"kagescan/internal/api"
	"kagescan/internal/config"
	"kagescan/internal/crash"
	"kagescan/internal/domain"
	"kagescan/internal/journal"
	applog "kagescan/internal/log"
	"kagescan/internal/pipeline"
	"kagescan/internal/store"
)

// dataDir resolves the per-user application data directory, next to the
// config file.
func dataDir() string {
	path, err := config.ConfigPath()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Dir(path)
}

// Run starts the Fyne-based desktop editor. projectID, when non-empty, is
// opened immediately.
func Run(projectID string) error {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	cfg, apiKey, err := config.Load()
	if err != nil {
		return err
	}
	client := api.NewClient(api.Options{
		BaseURL:           cfg.Backend.BaseURL,
		Timeout:           time.Duration(cfg.Backend.TimeoutMs) * time.Millisecond,
		TLSInsecure:       cfg.Backend.TLSInsecure,
		ValidateResponses: cfg.Backend.ValidateResponses,
	})
	st := store.New(client, 0)
	loader := store.NewImageLoader(client)

	dd := dataDir()
	jnl, err := journal.Open(dd)
	if err != nil {
		l.Warn("edit journal unavailable", "err", err)
	} else {
		st.SetRecorder(jnl)
		defer jnl.Close()
	}

	cc := crash.Context{DataDir: dd, Journal: jnl}
	defer func() {
		if p := st.Snapshot().Project; p != nil {
			cc.ProjectID = p.ID
		}
		crash.Recover(cc)
	}()

	fyneApp := app.NewWithID("kagescan")
	w := fyneApp.NewWindow("Kage Scan")
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", 1280)
	winH := prefs.IntWithFallback("window.height", 800)
	if winW < 960 {
		winW = 960
	}
	if winH < 600 {
		winH = 600
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	canvasWidget := NewPageCanvas()

	// Project list (left pane)
	projectItems := []domain.ProjectListItem{}
	projectsList := widget.NewList(
		func() int { return len(projectItems) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= 0 && int(i) < len(projectItems) {
				p := projectItems[i]
				o.(*widget.Label).SetText(fmt.Sprintf("%s (%d)", p.Name, p.PageCount))
			}
		},
	)
	projectsList.OnSelected = func(i widget.ListItemID) {
		if i < 0 || int(i) >= len(projectItems) {
			return
		}
		id := projectItems[i].ID
		if jnl != nil {
			_ = jnl.TouchRecent(id, projectItems[i].Name)
		}
		go st.FetchProject(ctx, id)
	}

	// Page list and navigation
	pageNames := []string{}
	pagesList := widget.NewList(
		func() int { return len(pageNames) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= 0 && int(i) < len(pageNames) {
				o.(*widget.Label).SetText(pageNames[i])
			}
		},
	)
	pagesList.OnSelected = func(i widget.ListItemID) { st.SetActivePage(int(i)) }
	pageLabel := widget.NewLabel("-- / --")
	prevBtn := widget.NewButton("<", func() { st.PrevPage() })
	nextBtn := widget.NewButton(">", func() { st.NextPage() })

	// Block inspector (right pane)
	translatedEntry := widget.NewMultiLineEntry()
	translatedEntry.SetPlaceHolder("Translated text")
	fontSizeSlider := widget.NewSlider(float64(domain.MinFontSize), float64(domain.MaxFontSize))
	fontSizeSlider.Step = 1
	fontSizeLabel := widget.NewLabel("")
	alignSelect := widget.NewSelect([]string{domain.AlignLeft, domain.AlignCenter, domain.AlignRight}, nil)
	colorEntry := widget.NewEntry()
	colorEntry.SetPlaceHolder("#000000")
	deleteBtn := widget.NewButton("Delete block", nil)

	// inspectorBusy suppresses widget callbacks while the inspector is
	// being repopulated from a snapshot.
	inspectorBusy := false

	applyBtn := widget.NewButton("Apply", func() {
		b, ok := st.SelectedBlock()
		if !ok {
			return
		}
		patch := domain.BlockPatch{}
		if translatedEntry.Text != b.TextTranslated {
			v := translatedEntry.Text
			patch.TextTranslated = &v
		}
		if size := int(fontSizeSlider.Value); size != b.FontSize {
			patch.FontSize = &size
		}
		if alignSelect.Selected != "" && alignSelect.Selected != b.TextAlignment {
			v := alignSelect.Selected
			patch.TextAlignment = &v
		}
		if colorEntry.Text != "" && colorEntry.Text != b.TextColor {
			v := colorEntry.Text
			patch.TextColor = &v
		}
		if patch.IsZero() {
			return
		}
		st.UpdateTextBlock(b.ID, patch)
	})
	deleteBtn.OnTapped = func() {
		b, ok := st.SelectedBlock()
		if !ok {
			return
		}
		st.DeleteTextBlock(b.ID)
	}
	fontSizeSlider.OnChanged = func(v float64) {
		if inspectorBusy {
			return
		}
		fontSizeLabel.SetText(strconv.Itoa(int(v)))
	}

	inspector := container.NewVBox(
		widget.NewLabelWithStyle("Block", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		translatedEntry,
		container.NewBorder(nil, nil, widget.NewLabel("Size"), fontSizeLabel, fontSizeSlider),
		alignSelect,
		colorEntry,
		applyBtn,
		deleteBtn,
	)
	inspector.Hide()

	// Banners
	errLabel := widget.NewLabel("")
	errLabel.Wrapping = fyne.TextWrapWord
	errBanner := container.NewBorder(nil, nil, nil,
		widget.NewButton("Dismiss", func() { st.ClearError() }), errLabel)
	errBanner.Hide()
	noticeLabel := widget.NewLabel("")
	noticeLabel.Hide()

	// Pipeline progress
	progress := widget.NewProgressBar()
	progress.Hide()
	status := widget.NewLabel("Ready")

	// Canvas gestures commit locally; the server sees them on Save.
	connectCanvas(canvasWidget, st)

	var noticeTimer *time.Timer

	refreshAll := func() {
		s := st.Snapshot()

		projectItems = s.Projects
		projectsList.Refresh()

		if s.Err != "" {
			errLabel.SetText(s.Err)
			errBanner.Show()
		} else {
			errBanner.Hide()
		}
		if s.Notice != "" {
			noticeLabel.SetText(s.Notice)
			noticeLabel.Show()
			if noticeTimer != nil {
				noticeTimer.Stop()
			}
			noticeTimer = time.AfterFunc(3*time.Second, func() { st.ClearNotice() })
		} else {
			noticeLabel.Hide()
		}

		switch {
		case s.Uploading:
			status.SetText(fmt.Sprintf("Uploading... %d%%", s.UploadProgress))
		case s.Exporting:
			status.SetText("Exporting...")
		case s.Saving:
			status.SetText("Saving...")
		case s.Processing:
			status.SetText("Processing...")
		default:
			status.SetText("Ready")
		}

		if s.Pipeline != nil && s.Processing {
			progress.Show()
			if s.Pipeline.TotalPages > 0 {
				progress.SetValue(float64(s.Pipeline.PageStatuses.Done()) / float64(s.Pipeline.TotalPages))
			}
		} else {
			progress.Hide()
		}

		page, pageOK := st.ActivePage()
		if s.Project == nil || !pageOK {
			pageNames = nil
			pagesList.Refresh()
			pageLabel.SetText("-- / --")
			canvasWidget.SetPage(nil, nil, "")
			inspector.Hide()
			return
		}
		pageLabel.SetText(fmt.Sprintf("%d / %d", s.ActivePageIndex+1, len(s.Project.Pages)))

		pageNames = pageNames[:0]
		for _, pg := range s.Project.Pages {
			pageNames = append(pageNames, fmt.Sprintf("%d  %s", pg.PageNumber, pg.Filename))
		}
		pagesList.Refresh()

		url := client.ImageURL(page.ImagePath)
		if loader.URL() != url {
			go loader.Load(ctx, url)
		}
		_, img := loader.State()
		canvasWidget.SetPage(img, page.TextBlocks, s.SelectedBlockID)

		b, ok := st.SelectedBlock()
		if !ok {
			inspector.Hide()
			return
		}
		inspector.Show()
		inspectorBusy = true
		translatedEntry.SetText(b.TextTranslated)
		fontSizeSlider.SetValue(float64(b.FontSize))
		fontSizeLabel.SetText(strconv.Itoa(b.FontSize))
		alignSelect.SetSelected(b.TextAlignment)
		colorEntry.SetText(b.TextColor)
		inspectorBusy = false
	}

	st.OnChange = func() { fyne.Do(refreshAll) }
	loader.OnChange = func() { fyne.Do(refreshAll) }

	// Toolbar actions
	uploadBtn := widget.NewButton("New Project", func() { showUploadDialog(ctx, w, cfg, st) })
	saveBtn := widget.NewButton("Save", func() {
		go st.SaveEdits(ctx, func(ctx context.Context, projectID string) (int, error) {
			return jnl.Flush(ctx, projectID, client)
		})
	})
	if jnl == nil {
		saveBtn.Disable()
	}
	runBtn := widget.NewButton("Translate", func() { go st.RunPipeline(ctx) })
	cancelBtn := widget.NewButton("Cancel", func() { st.CancelPipeline() })
	exportBtn := widget.NewButton("Export", func() { showExportDialog(ctx, w, st) })
	undoBtn := widget.NewButton("Undo", func() { st.Undo() })
	redoBtn := widget.NewButton("Redo", func() { st.Redo() })
	settingsBtn := widget.NewButton("Settings", func() { showSettingsDialog(ctx, w, client, cfg, apiKey) })

	toolbar := container.NewHBox(uploadBtn, saveBtn, runBtn, cancelBtn, exportBtn,
		widget.NewSeparator(), undoBtn, redoBtn, widget.NewSeparator(), settingsBtn)

	nav := container.NewHBox(prevBtn, pageLabel, nextBtn)
	left := container.NewVSplit(
		container.NewBorder(widget.NewLabel("Projects"), nil, nil, nil, projectsList),
		container.NewBorder(widget.NewLabel("Pages"), nil, nil, nil, pagesList),
	)
	center := container.NewBorder(nav, nil, nil, nil, canvasWidget)
	top := container.NewVBox(toolbar, errBanner, noticeLabel)
	bottom := container.NewBorder(nil, nil, status, nil, progress)

	split := container.NewHSplit(left, container.NewHSplit(center, inspector))
	split.SetOffset(0.18)
	w.SetContent(container.NewBorder(top, bottom, nil, nil, split))

	w.SetOnClosed(func() {
		size := w.Canvas().Size()
		prefs.SetInt("window.width", int(size.Width))
		prefs.SetInt("window.height", int(size.Height))
		st.Reset()
		cancelAll()
	})

	go st.FetchProjects(ctx)
	if projectID != "" {
		go st.FetchProject(ctx, projectID)
	}

	refreshAll()
	w.ShowAndRun()
	l.Info("UI closed")
	return nil
}

// showUploadDialog collects a chapter archive and project metadata, then
// uploads. Submitting without a name fails locally without a network call.
func showUploadDialog(ctx context.Context, w fyne.Window, cfg config.AppConfig, st *store.Store) {
	nameEntry := widget.NewEntry()
	fileEntry := widget.NewEntry()
	fileEntry.SetPlaceHolder("chapter.zip")
	srcEntry := widget.NewEntry()
	srcEntry.SetText(cfg.General.SourceLanguage)
	tgtEntry := widget.NewEntry()
	tgtEntry.SetText(cfg.General.TargetLanguage)

	browseBtn := widget.NewButton("Browse...", func() {
		dialog.ShowFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil || rc == nil {
				return
			}
			path := rc.URI().Path()
			_ = rc.Close()
			fileEntry.SetText(path)
			if nameEntry.Text == "" {
				nameEntry.SetText(store.AutoName(path))
			}
		}, w)
	})

	form := dialog.NewForm("New Project", "Upload", "Cancel", []*widget.FormItem{
		widget.NewFormItem("File", container.NewBorder(nil, nil, nil, browseBtn, fileEntry)),
		widget.NewFormItem("Name", nameEntry),
		widget.NewFormItem("Source", srcEntry),
		widget.NewFormItem("Target", tgtEntry),
	}, func(ok bool) {
		if !ok {
			return
		}
		go st.Upload(ctx, api.UploadRequest{
			Name:           nameEntry.Text,
			SourceLanguage: srcEntry.Text,
			TargetLanguage: tgtEntry.Text,
			File:           fileEntry.Text,
		})
	}, w)
	form.Resize(fyne.NewSize(480, 280))
	form.Show()
}

// showExportDialog downloads the translated archive to a user-picked file.
func showExportDialog(ctx context.Context, w fyne.Window, st *store.Store) {
	s := st.Snapshot()
	if s.Project == nil {
		return
	}
	save := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
		if err != nil || wc == nil {
			return
		}
		go func() {
			defer wc.Close()
			st.RunExport(ctx, wc)
		}()
	}, w)
	save.SetFileName(store.ExportFilename(s.Project.Name))
	save.Show()
}

// showSettingsDialog edits the backend AI provider configuration and drives
// the Copilot device-flow sign-in. The OpenRouter key entry is seeded from
// the OS keyring; the server only ever returns a masked copy.
func showSettingsDialog(ctx context.Context, w fyne.Window, client *api.Client, cfg config.AppConfig, localKey string) {
	providerSelect := widget.NewSelect([]string{"openrouter", "copilot"}, nil)
	keyEntry := widget.NewPasswordEntry()
	keyEntry.SetPlaceHolder("OpenRouter API key")
	keyEntry.SetText(localKey)
	maskedKey := ""
	orModelEntry := widget.NewEntry()
	cpModelEntry := widget.NewEntry()
	authLabel := widget.NewLabel("")
	promptLabel := widget.NewLabel("")
	promptLabel.Hide()

	flow := pipeline.NewDeviceFlow(client)
	signInBtn := widget.NewButton("Sign in with GitHub", nil)
	cancelAuthBtn := widget.NewButton("Cancel sign-in", func() { flow.Cancel() })
	cancelAuthBtn.Hide()

	flow.OnPrompt = func(code domain.DeviceCode) {
		fyne.Do(func() {
			promptLabel.SetText(fmt.Sprintf("Enter code %s at %s", code.UserCode, code.VerificationURI))
			promptLabel.Show()
			cancelAuthBtn.Show()
		})
	}
	signInBtn.OnTapped = func() {
		go func() {
			poll, err := flow.Run(ctx)
			fyne.Do(func() {
				promptLabel.Hide()
				cancelAuthBtn.Hide()
				switch {
				case err != nil:
					authLabel.SetText("Sign-in failed")
				case poll.Status == domain.AuthAuthenticated:
					authLabel.SetText("Copilot: authenticated")
				default:
					authLabel.SetText("Copilot: " + poll.Message)
				}
			})
		}()
	}

	go func() {
		s, err := client.GetSettings(ctx)
		if err != nil {
			return
		}
		fyne.Do(func() {
			providerSelect.SetSelected(s.Provider)
			if keyEntry.Text == "" {
				keyEntry.SetText(s.OpenRouterKey)
				maskedKey = s.OpenRouterKey
			}
			orModelEntry.SetText(s.OpenRouterModel)
			cpModelEntry.SetText(s.CopilotModel)
			if s.CopilotAuthenticated {
				authLabel.SetText("Copilot: authenticated")
			} else {
				authLabel.SetText("Copilot: not authenticated")
			}
		})
	}()

	form := dialog.NewForm("Settings", "Save", "Close", []*widget.FormItem{
		widget.NewFormItem("Provider", providerSelect),
		widget.NewFormItem("OpenRouter key", keyEntry),
		widget.NewFormItem("OpenRouter model", orModelEntry),
		widget.NewFormItem("Copilot model", cpModelEntry),
		widget.NewFormItem("", container.NewVBox(authLabel, signInBtn, promptLabel, cancelAuthBtn)),
	}, func(ok bool) {
		flow.Cancel()
		if !ok {
			return
		}
		keyChanged := keyEntry.Text != localKey && keyEntry.Text != maskedKey
		if keyChanged {
			if err := persistSettings(cfg, keyEntry.Text); err != nil {
				applog.WithComponent("ui").Warn("settings persist failed", "err", err)
			}
		}
		patch := domain.SettingsPatch{}
		if providerSelect.Selected != "" {
			v := providerSelect.Selected
			patch.Provider = &v
		}
		if keyChanged && keyEntry.Text != "" {
			v := keyEntry.Text
			patch.OpenRouterKey = &v
		}
		if orModelEntry.Text != "" {
			v := orModelEntry.Text
			patch.OpenRouterModel = &v
		}
		if cpModelEntry.Text != "" {
			v := cpModelEntry.Text
			patch.CopilotModel = &v
		}
		go func() { _, _ = client.UpdateSettings(ctx, patch) }()
	}, w)
	form.Resize(fyne.NewSize(520, 400))
	form.Show()
}
