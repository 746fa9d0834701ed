// Package terminal interprets terminal output and hosts interactive shells.
//
// Screen is a VT100-class emulator: it consumes raw bytes (cursor movement,
// erase, insert/delete, scroll, save/restore) and renders the visible grid
// plus a bounded scrollback as plain text. Log streams feed container output
// through it so progress bars and carriage-return redraws collapse the way
// they would on a real terminal.
//
// Manager runs interactive shells inside a target container over a TTY exec:
//
//	info, _ := shells.Create(ctx, target, terminal.CreateRequest{Cols: 120, Rows: 40})
//	_ = shells.Write(info.ID, []byte("ls -la\n"))
//	out, _ := shells.Read(info.ID)    // raw bytes since the last Read
//	screen, _ := shells.Render(info.ID) // interpreted screen
//	_ = shells.Resize(info.ID, 100, 30)
//	_ = shells.Kill(info.ID)
package terminal
