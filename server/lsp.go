package server

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "glosso-lsp"

// LspServer provides editor features for glasm source: assembler
// diagnostics, opcode and label completion, hover, and label navigation.
type LspServer struct {
	mu   sync.Mutex
	docs map[protocol.DocumentUri]string // URI → full document content

	asmOpts []compiler.Option

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server. opts are used when assembling
// documents for diagnostics.
func NewLSP(opts ...compiler.Option) *LspServer {
	s := &LspServer{
		docs:    make(map[protocol.DocumentUri]string),
		asmOpts: opts,
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Infof("glosso LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDocument(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDocument(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDocument(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[uri]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	pos, ok := indexDocument(text).labels[word]
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: wordRange(pos, word)}}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word, params.Context.IncludeDeclaration), nil
}

// --- Document analysis ---

// docIndex records where labels are defined and where words are used.
type docIndex struct {
	labels map[string]compiler.Position // first definition wins, as in the assembler
	words  []compiler.Token
}

func indexDocument(text string) docIndex {
	idx := docIndex{labels: make(map[string]compiler.Position)}
	for _, tok := range compiler.Tokenize(text) {
		switch tok.Type {
		case compiler.TokenLabel:
			if _, seen := idx.labels[tok.Literal]; !seen && tok.Literal != "" {
				idx.labels[tok.Literal] = tok.Pos
			}
		case compiler.TokenWord:
			idx.words = append(idx.words, tok)
		}
	}
	return idx
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	// Opcode mnemonics
	for _, op := range bytecode.AllOpcodes() {
		info := bytecode.GetOpcodeInfo(op)
		if !strings.HasPrefix(info.Name, lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := fmt.Sprintf("opcode, operand: %s", info.Shape)
		name := info.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	// Labels defined in the document
	idx := indexDocument(text)
	names := make([]string, 0, len(idx.labels))
	for name := range idx.labels {
		if strings.HasPrefix(strings.ToLower(name), lowerPrefix) && name != prefix {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		kind := protocol.CompletionItemKindReference
		detail := fmt.Sprintf("label, line %d", idx.labels[name].Line)
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(text, word string) *protocol.Hover {
	var b strings.Builder

	if op := bytecode.Lookup(word); op != bytecode.OpIllegal {
		info := bytecode.GetOpcodeInfo(op)
		fmt.Fprintf(&b, "**%s** (0x%02X)\n\n", info.Name, byte(op))
		fmt.Fprintf(&b, "Operand: %s\n\n", info.Shape)
		pops := fmt.Sprint(info.StackPop)
		if info.StackPop < 0 {
			pops = "operand-dependent"
		}
		fmt.Fprintf(&b, "Pops %s, pushes %d", pops, info.StackPush)
	} else if pos, ok := indexDocument(text).labels[word]; ok {
		fmt.Fprintf(&b, "**%s:** label defined on line %d", word, pos.Line)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func references(uri protocol.DocumentUri, text, label string, includeDecl bool) []protocol.Location {
	idx := indexDocument(text)
	def, ok := idx.labels[label]
	if !ok {
		return nil
	}

	var locations []protocol.Location
	if includeDecl {
		locations = append(locations, protocol.Location{URI: uri, Range: wordRange(def, label)})
	}
	for _, tok := range idx.words {
		if tok.Literal == label {
			locations = append(locations, protocol.Location{URI: uri, Range: wordRange(tok.Pos, label)})
		}
	}
	return locations
}

// wordRange converts a 1-based source position to an LSP range covering word.
func wordRange(pos compiler.Position, word string) protocol.Range {
	line := protocol.UInteger(pos.Line - 1)
	col := protocol.UInteger(pos.Column - 1)
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + protocol.UInteger(len(word))},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnose(uri, text),
	})
}

// diagnose assembles text and reports the first error. Includes resolve
// next to the document. Included text shifts line numbers, so errors in
// documents with includes are pinned to the first line.
func (s *LspServer) diagnose(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	src, err := compiler.Preprocess(text, documentDir(uri))
	if err == nil {
		_, err = compiler.Assemble(src, s.asmOpts...)
	}
	if err == nil {
		return []protocol.Diagnostic{}
	}

	line := 0
	var aerr *compiler.Error
	if errors.As(err, &aerr) && aerr.Line > 0 && !strings.Contains(text, "%include") {
		line = aerr.Line - 1
	}
	lines := strings.Split(text, "\n")
	end := 0
	if line < len(lines) {
		end = len(lines[line])
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
			End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
		},
		Severity: &severity,
		Source:   &source,
		Message:  err.Error(),
	}}
}

// documentDir returns the directory of a file:// URI, or "" for others.
func documentDir(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return filepath.Dir(filepath.FromSlash(u.Path))
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isIdentChar(c byte) bool {
	ch := rune(c)
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
