// Package binary decides whether file content is binary (and therefore not
// a candidate for line-based merging), using a tiered decision order: a
// curated path-extension table, a magic-byte signature table, a null-byte
// scan, then a non-printable-byte ratio over the leading bytes.
package binary

import (
	"bytes"
	"strings"
)

// Confidence grades how sure Detect is about its verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Reason identifies which rule in the decision order produced the verdict.
type Reason string

const (
	ReasonExtension       Reason = "extension"
	ReasonMagicBytes      Reason = "magic-bytes"
	ReasonNullByte        Reason = "null-byte"
	ReasonNonPrintable    Reason = "non-printable-ratio"
	ReasonEmpty           Reason = "empty-content"
	ReasonPrintableText   Reason = "printable-text"
)

// Result is the outcome of Detect.
type Result struct {
	IsBinary     bool
	Confidence   Confidence
	Reason       Reason
	DetectedType string // populated for extension/magic-byte matches, e.g. "png", "zip"
}

// sniffWindow is how many leading bytes the null-byte scan and
// non-printable ratio checks consider.
const sniffWindow = 8 * 1024

// binaryExtensions are extensions that are "definitely binary" regardless
// of content: images, archives, executables, fonts, databases, multimedia.
var binaryExtensions = map[string]string{
	".png": "png", ".jpg": "jpeg", ".jpeg": "jpeg", ".gif": "gif", ".bmp": "bmp",
	".ico": "ico", ".webp": "webp", ".tiff": "tiff", ".tif": "tiff", ".heic": "heic",
	".zip": "zip", ".tar": "tar", ".gz": "gzip", ".tgz": "gzip", ".bz2": "bzip2",
	".xz": "xz", ".7z": "7z", ".rar": "rar", ".jar": "jar", ".war": "jar",
	".exe": "exe", ".dll": "dll", ".so": "elf", ".dylib": "macho", ".bin": "bin",
	".o": "object", ".obj": "object", ".a": "archive", ".class": "class",
	".ttf": "ttf", ".otf": "otf", ".woff": "woff", ".woff2": "woff2", ".eot": "eot",
	".db": "sqlite", ".sqlite": "sqlite", ".sqlite3": "sqlite",
	".mp3": "mp3", ".mp4": "mp4", ".mov": "mov", ".avi": "avi", ".mkv": "mkv",
	".webm": "webm", ".flac": "flac", ".wav": "wav", ".ogg": "ogg",
	".pdf": "pdf", ".doc": "doc", ".docx": "docx", ".xls": "xls", ".xlsx": "xlsx",
	".ppt": "ppt", ".pptx": "pptx",
	".pyc": "pyc", ".pyo": "pyo",
}

// textExtensions are extensions that are "definitely text" regardless of
// content sniffing, covering common code and markup formats.
var textExtensions = map[string]string{
	".txt": "text", ".md": "markdown", ".markdown": "markdown", ".rst": "rst",
	".go": "go", ".py": "python", ".rb": "ruby", ".js": "javascript",
	".jsx": "javascript", ".ts": "typescript", ".tsx": "typescript",
	".java": "java", ".c": "c", ".h": "c-header", ".cc": "cpp", ".cpp": "cpp",
	".hpp": "cpp-header", ".rs": "rust", ".php": "php", ".pl": "perl",
	".sh": "shell", ".bash": "shell", ".zsh": "shell", ".fish": "shell",
	".json": "json", ".yaml": "yaml", ".yml": "yaml", ".toml": "toml",
	".xml": "xml", ".html": "html", ".htm": "html", ".css": "css",
	".scss": "scss", ".sass": "sass", ".less": "less",
	".csv": "csv", ".tsv": "tsv", ".ini": "ini", ".cfg": "ini", ".conf": "ini",
	".sql": "sql", ".proto": "protobuf", ".graphql": "graphql",
	".dockerfile": "dockerfile", ".gitignore": "gitignore", ".env": "env",
	".lock": "lockfile", ".gradle": "gradle", ".cs": "csharp", ".swift": "swift",
	".kt": "kotlin", ".kts": "kotlin", ".vue": "vue", ".svelte": "svelte",
}

type signature struct {
	name   string
	magic  []byte
	offset int
}

// magicSignatures is checked in order; the first match wins. Each
// signature must match exactly at its offset; every entry here sits at
// offset 0, including WebM/MKV's EBML header, WOFF's "wOFF" tag and
// SQLite's fixed header string.
var magicSignatures = []signature{
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0},
	{"pdf", []byte("%PDF-"), 0},
	{"zip", []byte{0x50, 0x4B, 0x03, 0x04}, 0},
	{"zip-empty", []byte{0x50, 0x4B, 0x05, 0x06}, 0},
	{"zip-spanned", []byte{0x50, 0x4B, 0x07, 0x08}, 0},
	{"gzip", []byte{0x1F, 0x8B}, 0},
	{"ole", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, 0},
	{"elf", []byte{0x7F, 0x45, 0x4C, 0x46}, 0},
	{"macho-32", []byte{0xFE, 0xED, 0xFA, 0xCE}, 0},
	{"macho-64", []byte{0xFE, 0xED, 0xFA, 0xCF}, 0},
	{"macho-fat", []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0},
	{"pe", []byte{0x4D, 0x5A}, 0},
	{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3}, 0},
	{"flac", []byte("fLaC"), 0},
	{"sqlite", []byte("SQLite format 3\x00"), 0},
	{"woff", []byte("wOFF"), 0},
	{"woff2", []byte("wOF2"), 0},
	{"gif87", []byte("GIF87a"), 0},
	{"gif89", []byte("GIF89a"), 0},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}, 0},
	{"bmp", []byte("BM"), 0},
	{"rar", []byte("Rar!\x1A\x07"), 0},
}

// Detect classifies content (with an optional associated path) as binary
// or text, short-circuiting in order: path extension, magic bytes,
// null-byte scan, then non-printable ratio.
func Detect(content []byte, path string) Result {
	if ext, ok := extensionVerdict(path); ok {
		return ext
	}

	if sig, ok := matchMagicBytes(content); ok {
		return Result{IsBinary: true, Confidence: ConfidenceHigh, Reason: ReasonMagicBytes, DetectedType: sig}
	}

	if len(content) == 0 {
		return Result{IsBinary: false, Confidence: ConfidenceHigh, Reason: ReasonEmpty}
	}

	window := content
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}

	if bytes.IndexByte(window, 0x00) >= 0 {
		return Result{IsBinary: true, Confidence: ConfidenceHigh, Reason: ReasonNullByte}
	}

	ratio := nonPrintableRatio(window)
	switch {
	case ratio > 0.3:
		return Result{IsBinary: true, Confidence: ConfidenceMedium, Reason: ReasonNonPrintable}
	case ratio > 0.1:
		return Result{IsBinary: true, Confidence: ConfidenceLow, Reason: ReasonNonPrintable}
	case ratio <= 0.01:
		return Result{IsBinary: false, Confidence: ConfidenceHigh, Reason: ReasonPrintableText}
	default:
		return Result{IsBinary: false, Confidence: ConfidenceMedium, Reason: ReasonPrintableText}
	}
}

// extensionVerdict checks the curated extension tables. The second return
// value is false when path is empty or its extension appears in neither
// table, meaning the caller should fall through to content sniffing.
func extensionVerdict(path string) (Result, bool) {
	if path == "" {
		return Result{}, false
	}
	ext := strings.ToLower(extensionOf(path))
	if ext == "" {
		return Result{}, false
	}
	if kind, ok := binaryExtensions[ext]; ok {
		return Result{IsBinary: true, Confidence: ConfidenceHigh, Reason: ReasonExtension, DetectedType: kind}, true
	}
	if kind, ok := textExtensions[ext]; ok {
		return Result{IsBinary: false, Confidence: ConfidenceHigh, Reason: ReasonExtension, DetectedType: kind}, true
	}
	return Result{}, false
}

func extensionOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	// Handle dotfiles like ".gitignore" where the whole basename is the "extension".
	slash := strings.LastIndexAny(path, "/\\")
	if i <= slash {
		return ""
	}
	return path[i:]
}

func matchMagicBytes(content []byte) (string, bool) {
	for _, sig := range magicSignatures {
		end := sig.offset + len(sig.magic)
		if end > len(content) {
			continue
		}
		if bytes.Equal(content[sig.offset:end], sig.magic) {
			return sig.name, true
		}
	}
	return "", false
}

// nonPrintableRatio computes the fraction of window outside the printable
// ASCII + whitespace band, excluding the UTF-8 continuation/leader byte
// range [0x80, 0xF7] which is treated as plausibly textual.
func nonPrintableRatio(window []byte) float64 {
	if len(window) == 0 {
		return 0
	}
	var nonPrintable int
	for _, b := range window {
		if isPrintableOrWhitespace(b) || isUTF8Plausible(b) {
			continue
		}
		nonPrintable++
	}
	return float64(nonPrintable) / float64(len(window))
}

func isPrintableOrWhitespace(b byte) bool {
	switch b {
	case 0x09, 0x0A, 0x0D:
		return true
	}
	return b >= 0x20 && b <= 0x7E
}

func isUTF8Plausible(b byte) bool {
	return b >= 0x80 && b <= 0xF7
}
