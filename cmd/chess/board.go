package main

import (
	"strings"

	wasmchess "github.com/wippyai/wasm-chess"
)

var pieceGlyphs = map[rune]string{
	'K': "♔", 'Q': "♕", 'R': "♖", 'B': "♗", 'N': "♘", 'P': "♙",
	'k': "♚", 'q': "♛", 'r': "♜", 'b': "♝", 'n': "♞", 'p': "♟",
}

// square is one cell of a rendered board.
type square struct {
	name  string // e.g. "e4"
	piece rune   // FEN letter, 0 when empty
	light bool
}

// boardRows expands the placement field of pos into ranks, top row first.
// Black's view is flipped.
func boardRows(pos wasmchess.Position, side wasmchess.Side) [][]square {
	placement, _, _ := strings.Cut(string(pos), " ")
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return nil
	}

	rows := make([][]square, 8)
	for r, rank := range ranks {
		row := make([]square, 0, 8)
		for _, c := range rank {
			if c >= '1' && c <= '8' {
				for i := 0; i < int(c-'0'); i++ {
					row = append(row, square{})
				}
				continue
			}
			row = append(row, square{piece: c})
		}
		if len(row) != 8 {
			return nil
		}
		for f := range row {
			row[f].name = string(rune('a'+f)) + string(rune('8'-r))
			row[f].light = (r+f)%2 == 0
		}
		rows[r] = row
	}

	if side == wasmchess.Black {
		for i, j := 0, 7; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
		for _, row := range rows {
			for i, j := 0, 7; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
	return rows
}

// plainBoard renders pos as text with FEN letters.
func plainBoard(pos wasmchess.Position, side wasmchess.Side) string {
	rows := boardRows(pos, side)
	if rows == nil {
		return string(pos) + "\n"
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteByte(row[0].name[1])
		b.WriteString(" ")
		for _, sq := range row {
			b.WriteByte(' ')
			if sq.piece == 0 {
				b.WriteByte('.')
			} else {
				b.WriteRune(sq.piece)
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("  ")
	for _, sq := range rows[7] {
		b.WriteByte(' ')
		b.WriteByte(sq.name[0])
	}
	b.WriteByte('\n')
	return b.String()
}
