// Package bot – messages.go resolves the canned flow replies. Each reply
// has a built-in Portuguese default and can be overridden by a tag line in
// the prompt file, e.g.:
//
//	[SAUDACAO] Olá! Bem-vindo(a)! ✨
//	[PEDIR_NOME] Como posso te chamar?
//
// Literal "\n" sequences in tag lines become real newlines, and "{name}"
// is replaced with the user's name where it applies.
package bot

import (
	"bufio"
	"os"
	"strings"
)

// Message tags recognized in the prompt file.
const (
	tagGreeting        = "SAUDACAO"
	tagAskName         = "PEDIR_NOME"
	tagNameSaved       = "NOME_SALVO"
	tagWelcomeBack     = "BOAS_VINDAS"
	tagRegisterAskName = "CADASTRO_NOME"
	tagRegisterConfirm = "CADASTRO_CONFIRMA"
	tagRegisterWelcome = "CADASTRO_BEM_VINDO"
	tagRegisterRetry   = "CADASTRO_ERRO"
)

// defaultMessages are the built-in replies used when the prompt file has
// no override for a tag.
var defaultMessages = map[string]string{
	tagGreeting:        "Olá! Bem-vindo(a)! ✨",
	tagAskName:         "Eu sou sua assistente virtual. Para começarmos, como posso te chamar?",
	tagNameSaved:       "Prazer em te conhecer, {name}! 😊\n\nComo posso te ajudar agora? Pode me perguntar qualquer coisa!",
	tagWelcomeBack:     "Que bom te ver de novo, {name}! 😊 Como posso te ajudar hoje?",
	tagRegisterAskName: "Olá! Vi que é seu primeiro contato por aqui. 📋\n\nPara fazer seu cadastro, me diga: qual é o seu nome?",
	tagRegisterConfirm: "Perfeito! Posso confirmar seu cadastro como *{name}*?\n\nResponda *sim* para confirmar ou envie o nome correto.",
	tagRegisterWelcome: "Cadastro confirmado! Seja bem-vindo(a), {name}! 🎉",
	tagRegisterRetry:   "Ops, não consegui salvar seu cadastro agora. 😕 Pode responder *sim* de novo para tentar outra vez?",
}

// Messages resolves flow reply texts from an optional prompt file.
type Messages struct {
	promptFile string
}

// NewMessages creates a Messages resolver. promptFile may be empty, in
// which case only the defaults are used.
func NewMessages(promptFile string) *Messages {
	return &Messages{promptFile: promptFile}
}

// Get returns the reply text for a tag, with {name} substituted.
func (m *Messages) Get(tag, name string) string {
	text := m.lookup(tag)
	if text == "" {
		text = defaultMessages[tag]
	}
	return strings.ReplaceAll(text, "{name}", name)
}

// lookup scans the prompt file for a "[TAG] message" line.
// A missing or unreadable file is not an error — defaults apply.
func (m *Messages) lookup(tag string) string {
	if m.promptFile == "" {
		return ""
	}

	f, err := os.Open(m.promptFile)
	if err != nil {
		return ""
	}
	defer f.Close()

	prefix := "[" + tag + "]"
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, prefix) {
			msg := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return strings.ReplaceAll(msg, `\n`, "\n")
		}
	}
	return ""
}
