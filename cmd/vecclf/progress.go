package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/hupe1980/vecclf"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/schollz/progressbar/v3"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
	)
}

// embedProgress creates its bar on the first callback, when the total is known.
type embedProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (p *embedProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = getProgressBar(total, "Embedding corpus...")
	}
	_ = p.bar.Set(done)
	if done >= total {
		_ = p.bar.Finish()
	}
}

func (p *embedProgress) option() embedding.Option {
	return embedding.WithProgress(p.update)
}

// trainProgress renders optimizer steps as a spinner and reports epoch losses.
type trainProgress struct {
	bar *progressbar.ProgressBar
}

func newTrainProgress() *trainProgress {
	return &trainProgress{bar: getSpinner("Training...")}
}

func (p *trainProgress) OnStep(epoch, _ int, loss float64, _ time.Duration) {
	p.bar.Describe(color.CyanString("Training epoch %d (loss %.4f)", epoch+1, loss))
	_ = p.bar.Add(1)
}

func (p *trainProgress) OnEpoch(epoch int, loss float64, _ time.Duration) {
	p.bar.Describe(color.CyanString("Epoch %d done (loss %.4f)", epoch+1, loss))
}

func (p *trainProgress) OnEvaluate(loss float64, _ time.Duration) {
	p.bar.Describe(color.CyanString("Validation loss %.4f", loss))
}

func (p *trainProgress) finish() {
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stderr)
}

func printSuccess(format string, args ...any) {
	fmt.Println(color.GreenString("✓ "+format, args...))
}

func printFailure(err error) {
	var se *vecclf.StageError
	if errors.As(err, &se) {
		fmt.Fprintln(os.Stderr, color.RedString("✗ %s stage failed: %v", se.Stage, se.Err))
		return
	}
	fmt.Fprintln(os.Stderr, color.RedString("✗ %v", err))
}
