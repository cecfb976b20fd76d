package rpmkit

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// pagerOut is where plain (non-TTY) output goes.
var pagerOut io.Writer = os.Stdout

// fitsScreen reports whether n lines can be printed without paging.
func fitsScreen(n int) bool {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return true
	}
	_, height, err := term.GetSize(fd)
	// two rows go to the border
	return err == nil && n <= height-2
}

// page shows lines in a scrollable view when stdout is a terminal too
// small to hold them, and prints them otherwise.
func page(title string, lines []string) error {
	if pagerOut != os.Stdout || fitsScreen(len(lines)) {
		for _, line := range lines {
			fmt.Fprintln(pagerOut, line)
		}
		return nil
	}

	app := tview.NewApplication()
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	view.SetBorder(true).SetTitle(" " + title + " ")
	fmt.Fprint(tview.ANSIWriter(view), strings.Join(lines, "\n"))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Use ↑/↓, PgUp/PgDn, Home/End to scroll. Press 'q' or 'Esc' to quit.[white]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(view, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEsc, event.Key() == tcell.KeyCtrlQ,
			event.Key() == tcell.KeyRune && event.Rune() == 'q':
			app.Stop()
			return nil
		}
		return event
	})

	if err := app.SetRoot(layout, true).SetFocus(view).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}
