package out

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/codecollab/agentpay/internal/model"
)

// Watcher renders live transfer-status updates with a spinner. Only used in
// plain mode; JSON output gets the final envelope instead.
type Watcher struct {
	w       io.Writer
	spinner *spinner.Spinner
}

func NewWatcher(w io.Writer) *Watcher {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	return &Watcher{w: w, spinner: s}
}

func (wt *Watcher) Start(txHash string) {
	fmt.Fprintf(wt.w, "Watching transfer %s\n", color.CyanString(txHash))
	wt.spinner.Suffix = " waiting for settlement..."
	wt.spinner.Start()
}

// Observe updates the spinner for one poll result.
func (wt *Watcher) Observe(st model.TransferStatus) {
	wt.spinner.Suffix = fmt.Sprintf(" attempt %d: %s", st.Attempt, coloredState(st.State))
}

// Finish stops the spinner and prints the verdict line.
func (wt *Watcher) Finish(st model.TransferStatus) {
	wt.spinner.Stop()
	switch st.State {
	case model.TransferDone:
		color.New(color.FgGreen).Fprintf(wt.w, "Transfer complete")
		if st.Receiving != nil && st.Receiving.TxHash != "" {
			fmt.Fprintf(wt.w, " (destination tx %s)", color.HiBlackString(st.Receiving.TxHash))
		}
		fmt.Fprintln(wt.w)
	case model.TransferFailed:
		color.New(color.FgRed).Fprintf(wt.w, "Transfer failed")
		if st.Substatus != "" {
			fmt.Fprintf(wt.w, ": %s", st.Substatus)
		}
		fmt.Fprintln(wt.w)
	case model.TransferTimeout:
		color.New(color.FgYellow).Fprintln(wt.w, "Still pending after polling budget; the transfer may settle later")
	default:
		fmt.Fprintf(wt.w, "Status: %s\n", coloredState(st.State))
	}
}

func coloredState(state model.TransferState) string {
	switch state {
	case model.TransferDone:
		return color.GreenString(string(state))
	case model.TransferFailed, model.TransferInvalid:
		return color.RedString(string(state))
	case model.TransferTimeout:
		return color.YellowString(string(state))
	default:
		return color.YellowString(string(state))
	}
}
