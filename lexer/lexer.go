package lexer

import (
	"fmt"
	"strings"
	"unicode"

	"monkeylang/token"
)

type Lexer struct {
	input        []rune // ソースコード。マルチバイト文字に対応するためruneで持つ。
	position     int    // 入力における現在の位置（現在の文字を指し示す）
	readPosition int    // これから読み込む位置（現在の文字の次）
	ch           rune   // 現在検査中の文字

	line   int // chの行番号
	column int // chの列番号（rune単位）
}

func New(input string) *Lexer {
	l := &Lexer{input: []rune(input), line: 1}
	l.readChar()
	return l
}

// 入力を最後まで読み切り、EOFで終わるトークン列を返す。
func Tokenize(input string) []token.Token {
	l := New(input)
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}

func (l *Lexer) NextToken() token.Token {
	var tok token.Token

	l.skipWhitespaceAndComments()

	line, column := l.line, l.column

	switch l.ch {
	case '=':
		tok = l.twoCharToken('=', token.EQ, token.ASSIGN)
	case '!':
		tok = l.twoCharToken('=', token.NOT_EQ, token.BANG)
	case '<':
		tok = l.twoCharToken('=', token.LT_EQ, token.LT)
	case '>':
		tok = l.twoCharToken('=', token.GT_EQ, token.GT)
	case '+':
		tok = newToken(token.PLUS, l.ch)
	case '-':
		tok = newToken(token.MINUS, l.ch)
	case '/':
		tok = newToken(token.SLASH, l.ch)
	case '*':
		tok = newToken(token.ASTERISK, l.ch)
	case '%':
		tok = newToken(token.PERCENT, l.ch)
	case '^':
		tok = newToken(token.CARET, l.ch)
	case ';':
		tok = newToken(token.SEMICOLON, l.ch)
	case ',':
		tok = newToken(token.COMMA, l.ch)
	case ':':
		tok = newToken(token.COLON, l.ch)
	case '{':
		tok = newToken(token.LBRACE, l.ch)
	case '}':
		tok = newToken(token.RBRACE, l.ch)
	case '(':
		tok = newToken(token.LPAREN, l.ch)
	case ')':
		tok = newToken(token.RPAREN, l.ch)
	case '[':
		tok = newToken(token.LBRACKET, l.ch)
	case ']':
		tok = newToken(token.RBRACKET, l.ch)
	case '#':
		// # 単体は使えない。#{ でハッシュリテラルの開始になる。
		if l.peekChar() == '{' {
			l.readChar()
			tok = token.Token{Type: token.HASH, Literal: "#{"}
		} else {
			tok = illegal(fmt.Sprintf("illegal character %q", l.ch))
		}
	case '"':
		tok = l.readString()
	case 0:
		tok.Literal = ""
		tok.Type = token.EOF
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(tok.Literal)
			tok.Line, tok.Column = line, column
			// readIdentifierの中ですでに次の文字まで読み進めているので、ここで即return
			return tok
		} else if isDigit(l.ch) {
			tok.Type = token.INT
			tok.Literal = l.readNumber()
			tok.Line, tok.Column = line, column
			return tok
		}
		tok = illegal(fmt.Sprintf("illegal character %q", l.ch))
	}

	tok.Line, tok.Column = line, column
	l.readChar()
	return tok
}

// 次の文字がnextなら2文字の演算子(==, !=, <=, >=)、そうでなければ1文字の演算子
func (l *Lexer) twoCharToken(next rune, double, single token.TokenType) token.Token {
	if l.peekChar() == next {
		ch := l.ch
		l.readChar()
		return token.Token{Type: double, Literal: string(ch) + string(l.ch)}
	}
	return newToken(single, l.ch)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for unicode.IsSpace(l.ch) {
			l.readChar()
		}
		// // から行末まではコメント
		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition += 1
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return string(l.input[position:l.position])
}

// 1_000 のように _ を区切りとして書ける。リテラルには数字だけを残す。
func (l *Lexer) readNumber() string {
	var out strings.Builder
	for isDigit(l.ch) || l.ch == '_' {
		if l.ch != '_' {
			out.WriteRune(l.ch)
		}
		l.readChar()
	}
	return out.String()
}

// " から対応する " までを一つのSTRINGトークンとして読む。エスケープは \" \\ \n \t \r のみ。
// 終端の " がないまま入力が終わった場合や、不明なエスケープがあった場合はILLEGALトークンになる。
func (l *Lexer) readString() token.Token {
	var out strings.Builder
	var problem string

	for {
		l.readChar()
		switch l.ch {
		case '"':
			if problem != "" {
				return illegal(problem)
			}
			return token.Token{Type: token.STRING, Literal: out.String()}
		case 0:
			// 現在の文字(0)はEOFなので、NextTokenの最後のreadCharで読み飛ばしても問題ない
			return illegal("unterminated string literal")
		case '\\':
			l.readChar()
			switch l.ch {
			case '"':
				out.WriteRune('"')
			case '\\':
				out.WriteRune('\\')
			case 'n':
				out.WriteRune('\n')
			case 't':
				out.WriteRune('\t')
			case 'r':
				out.WriteRune('\r')
			case 0:
				return illegal("unterminated string literal")
			default:
				if problem == "" {
					problem = fmt.Sprintf("unknown escape sequence \\%c", l.ch)
				}
			}
		default:
			out.WriteRune(l.ch)
		}
	}
}

func isLetter(ch rune) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch > unicode.MaxASCII && unicode.IsLetter(ch)
}

// 数値は10進数の整数のみ。浮動小数点や16進数などはサポート外。
func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

func newToken(tokenType token.TokenType, ch rune) token.Token {
	return token.Token{Type: tokenType, Literal: string(ch)}
}

// ILLEGALトークンのLiteralには字句エラーの内容をそのまま入れる。構文解析器がエラーとして報告する。
func illegal(msg string) token.Token {
	return token.Token{Type: token.ILLEGAL, Literal: msg}
}
