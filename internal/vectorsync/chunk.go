package vectorsync

import (
	"maps"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum characters per indexed chunk.
const DefaultChunkSize = 2000

// SplitText cuts text into pieces of at most size characters, preferring to
// break after whitespace. A single word longer than size is hard-split.
func SplitText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}

		cut := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}

		chunk := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	return chunks
}

// ChunkDocument splits doc into chunk documents when its text exceeds size.
// Each chunk carries chunk_index and total_chunks metadata and an id
// derived from the parent's.
func ChunkDocument(doc Document, size int) []Document {
	pieces := SplitText(doc.Text, size)
	if len(pieces) == 1 {
		return []Document{doc}
	}

	out := make([]Document, len(pieces))
	for i, piece := range pieces {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta[MetaChunkIndex] = i
		meta[MetaTotalChunks] = len(pieces)
		out[i] = Document{
			ID:       doc.ID + "_" + strconv.Itoa(i),
			Text:     piece,
			Metadata: meta,
		}
	}
	return out
}

// Batches groups docs into slices of at most size.
func Batches(docs []Document, size int) [][]Document {
	if size <= 0 {
		size = 100
	}
	var out [][]Document
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		out = append(out, docs[start:end])
	}
	return out
}
