package parser

import (
	"fmt"
	"strconv"

	"monkeylang/ast"
	"monkeylang/token"
)

const (
	_ int = iota
	LOWEST
	EQUALS  // == or !=
	COMPARE // > < >= <=
	SUM     // + -
	PRODUCT // * / %
	POWER   // ^ (右結合)
	PREFIX  // -X or !X
	CALL    // myFunction(X)
	INDEX   // array[index]
)

// 優先順位。下に行くほど優先順位高。
var precedences = map[token.TokenType]int{
	token.EQ:       EQUALS,
	token.NOT_EQ:   EQUALS,
	token.LT:       COMPARE,
	token.GT:       COMPARE,
	token.LT_EQ:    COMPARE,
	token.GT_EQ:    COMPARE,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.SLASH:    PRODUCT,
	token.ASTERISK: PRODUCT,
	token.PERCENT:  PRODUCT,
	token.CARET:    POWER,
	token.LPAREN:   CALL,
	token.LBRACKET: INDEX,
}

type (
	prefixParseFn func() ast.Expression               // 前置
	infixParseFn  func(ast.Expression) ast.Expression // 中置（引数は左側の式）
)

// 構文解析器にトークンを渡すもの。*lexer.Lexerがこれを満たす。
type TokenSource interface {
	NextToken() token.Token
}

// 構文エラー。一回の解析で複数集まる。
type Error struct {
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

type Parser struct {
	src    TokenSource
	errors []*Error

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn

	// curTokenまでに開かれていて、まだ閉じられていない { と #{ の数。エラー後の同期に使う。
	depth int
	// エラーが起きてから次の文の境界に同期するまでの間はtrue。その間のエラーは報告しない。
	panicking bool
	// 入力の終わり(EOF)に達したことが原因のエラーがあったか。
	incomplete bool
}

func New(src TokenSource) *Parser {
	p := &Parser{
		src:    src,
		errors: []*Error{},
	}

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.BANG, p.parsePrefixExpression)  // !
	p.registerPrefix(token.MINUS, p.parsePrefixExpression) // -
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.NIL, p.parseNil)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression) // (
	p.registerPrefix(token.IF, p.parseIfExpression)
	p.registerPrefix(token.FUNCTION, p.parseFunctionLiteral)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral) // [ 配列リテラルの始まり
	p.registerPrefix(token.HASH, p.parseHashLiteral)      // #{ ハッシュリテラルの始まり
	p.registerPrefix(token.LBRACE, p.parseBlockExpression) // 式の位置の { はブロック式

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	for _, t := range []token.TokenType{
		token.PLUS, token.MINUS, token.SLASH, token.ASTERISK, token.PERCENT, token.CARET,
		token.EQ, token.NOT_EQ, token.LT, token.GT, token.LT_EQ, token.GT_EQ,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// トークン列をまとめて構文解析する。
func Parse(tokens []token.Token) (*ast.Program, []*Error) {
	p := New(&sliceSource{tokens: tokens})
	program := p.ParseProgram()
	return program, p.Errors()
}

type sliceSource struct {
	tokens []token.Token
	pos    int
}

// 末尾に達した後は最後のトークンを返し続ける。最後のトークンがEOFでなければEOFを補う。
func (s *sliceSource) NextToken() token.Token {
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok
	}
	eof := token.Token{Type: token.EOF}
	if n := len(s.tokens); n > 0 {
		last := s.tokens[n-1]
		eof.Line, eof.Column = last.Line, last.Column+len([]rune(last.Literal))
	}
	return eof
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.src.NextToken()

	switch p.curToken.Type {
	case token.LBRACE, token.HASH:
		p.depth++
	case token.RBRACE:
		p.depth--
	}
}

func (p *Parser) curTokenIs(t token.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) Errors() []*Error {
	return p.errors
}

// 入力の途中で終わってしまったことによるエラーがあればtrue。REPLで続きの行を読むかどうかの判断に使う。
func (p *Parser) Incomplete() bool {
	return p.incomplete
}

func (p *Parser) errorAt(tok token.Token, format string, a ...interface{}) {
	if p.panicking {
		return
	}
	p.panicking = true

	msg := fmt.Sprintf(format, a...)
	switch tok.Type {
	case token.ILLEGAL:
		// 字句エラーはその内容をそのまま報告する
		msg = tok.Literal
	case token.EOF:
		p.incomplete = true
	}
	p.errors = append(p.errors, &Error{Message: msg, Line: tok.Line, Column: tok.Column})
}

func (p *Parser) peekError(t token.TokenType) {
	p.errorAt(p.peekToken, "expected next token to be %s, got %s instead", t, p.peekToken.Type)
}

func (p *Parser) noPrefixParseFnError(tok token.Token) {
	p.errorAt(tok, "no prefix parse function for %s found", tok.Type)
}

func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	program.Statements = p.parseStatements(token.EOF)
	return program
}

// endトークン(EOFかブロックの})が現れるまで文を解析する。
// 文の解析でエラーが起きたら、次の文の境界まで読み飛ばしてから続ける。
func (p *Parser) parseStatements(end token.TokenType) []ast.Statement {
	statements := []ast.Statement{}

	for !p.curTokenIs(end) && !p.curTokenIs(token.EOF) {
		base := p.depth
		if p.curTokenIs(token.LBRACE) || p.curTokenIs(token.HASH) {
			base--
		}

		stmt := p.parseStatement()
		if p.panicking {
			p.synchronize(base, end)
			continue
		}
		if stmt != nil {
			statements = append(statements, stmt)
		}
		p.nextToken()
	}

	return statements
}

// エラーが起きた文の残りを読み飛ばす。止まる位置は以下のいずれか。
// - 文と同じ深さの ; の次のトークン（次の文の先頭）
// - ブロックの中なら、そのブロックを閉じる }
// - EOF（この場合はpanickingのままにして、以降のエラーを報告しない）
func (p *Parser) synchronize(base int, end token.TokenType) {
	for !p.curTokenIs(token.EOF) {
		if end == token.RBRACE && p.depth < base {
			p.panicking = false
			return
		}
		if p.curTokenIs(token.SEMICOLON) && p.depth <= base {
			p.nextToken()
			p.panicking = false
			return
		}
		p.nextToken()
	}
}

// 文の解析関数はどれも、文の最後のトークンにcurTokenを置いた状態で返る。
func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.LET:
		return p.parseLetStatement()
	case token.RETURN:
		return p.parseReturnStatement()
	case token.LBRACE:
		return p.parseBlockStatementStatement()
	default:
		return p.parseExpressionStatement()
	}
}

// let <identifier> = <expression>;
func (p *Parser) parseLetStatement() ast.Statement {
	stmt := &ast.LetStatement{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}

	stmt.Name = &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if !p.expectPeek(token.ASSIGN) {
		return nil
	}

	p.nextToken()

	stmt.Value = p.parseExpression(LOWEST)
	if stmt.Value == nil {
		return nil
	}

	if !p.expectTerminator() {
		return nil
	}

	return stmt
}

// return <expression>;
// return; は nil を返す。
func (p *Parser) parseReturnStatement() ast.Statement {
	stmt := &ast.ReturnStatement{Token: p.curToken}

	if p.peekTokenIs(token.SEMICOLON) {
		stmt.ReturnValue = &ast.NilLiteral{Token: p.curToken}
		p.nextToken()
		return stmt
	}

	p.nextToken()

	stmt.ReturnValue = p.parseExpression(LOWEST)
	if stmt.ReturnValue == nil {
		return nil
	}

	if !p.expectTerminator() {
		return nil
	}

	return stmt
}

// let文とreturn文は ; で終わらなければならない。ただしプログラムの最後(EOF)だけは省略できる。
func (p *Parser) expectTerminator() bool {
	if p.peekTokenIs(token.EOF) {
		return true
	}
	return p.expectPeek(token.SEMICOLON)
}

// 式文の ; は以下の場合は省略できる。
// - 式が if、fn リテラル、ブロック式のとき（} で終わる式）
// - ブロックの最後の文のとき（次が }）
// - プログラムの最後の文のとき（次がEOF）
//
// ; がない式文の次の行が [ や ( で始まると、前の式の添字や関数呼び出しとして続けて解析される。
// let b = [1, 2, a]
// [a]
// は let b = ([1, 2, a][a]); という一つの文になる。これはそういう仕様。
func (p *Parser) parseExpressionStatement() ast.Statement {
	stmt := &ast.ExpressionStatement{Token: p.curToken}

	stmt.Expression = p.parseExpression(LOWEST)
	if stmt.Expression == nil {
		return nil
	}

	switch stmt.Expression.(type) {
	case *ast.IfExpression, *ast.FunctionLiteral, *ast.BlockExpression:
		if p.peekTokenIs(token.SEMICOLON) {
			p.nextToken()
		}
	default:
		if p.peekTokenIs(token.SEMICOLON) {
			p.nextToken()
		} else if !p.peekTokenIs(token.RBRACE) && !p.peekTokenIs(token.EOF) {
			p.peekError(token.SEMICOLON)
			return nil
		}
	}

	return stmt
}

// 文の位置に現れた { はブロック文。} で終わるので ; は省略できる。
func (p *Parser) parseBlockStatementStatement() ast.Statement {
	block := p.parseBlockStatement()
	if block == nil {
		return nil
	}

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}

	return block
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()
	if leftExp == nil {
		return nil
	}

	// 次のトークンの結合力（左結合力）が現在の結合力（右結合力）より強い間は、
	// ここまでに解析した式が次の演算子の左側に吸い込まれていく。
	for !p.peekTokenIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()

		leftExp = infix(leftExp)
		if leftExp == nil {
			return nil
		}
	}

	return leftExp
}

// 次のトークンの優先順位を確認。なければ最低の優先順位をデフォで返す。
func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}

	return LOWEST
}

// 現在のトークンの優先順位を確認。なければ最低の優先順位をデフォで返す。
func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}

	return LOWEST
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	lit := &ast.IntegerLiteral{Token: p.curToken}

	value, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.errorAt(p.curToken, "could not parse %q as integer", p.curToken.Literal)
		return nil
	}

	lit.Value = value

	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseNil() ast.Expression {
	return &ast.NilLiteral{Token: p.curToken}
}

// <prefix operator><expression>
func (p *Parser) parsePrefixExpression() ast.Expression {
	expression := &ast.PrefixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
	}

	p.nextToken()

	expression.Right = p.parseExpression(PREFIX)
	if expression.Right == nil {
		return nil
	}

	return expression
}

// 中置演算子の式のparse。curTokenが中置の演算子にまで進んだ状態で呼ばれる。
func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expression := &ast.InfixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
		Left:     left,
	}

	precedence := p.curPrecedence()
	// ^ は右結合。右側を一段低い優先順位で解析することで、次の ^ が右側に吸い込まれる。
	// 2 ^ 3 ^ 2 は (2 ^ (3 ^ 2)) になる。
	if p.curTokenIs(token.CARET) {
		precedence--
	}
	p.nextToken()
	expression.Right = p.parseExpression(precedence)
	if expression.Right == nil {
		return nil
	}

	return expression
}

// ( が現れたら括弧の中をLOWESTから解析し直す。これで括弧の中の式が木の深いところに入る。
func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()

	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}

	return exp
}

// if <condition> <consequence> else <alternative>
// 条件式の括弧はあってもなくてもいい。括弧がある場合はただのグループ化された式として解析される。
func (p *Parser) parseIfExpression() ast.Expression {
	expression := &ast.IfExpression{Token: p.curToken}

	p.nextToken()
	expression.Condition = p.parseExpression(LOWEST)
	if expression.Condition == nil {
		return nil
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}

	expression.Consequence = p.parseBlockStatement()
	if expression.Consequence == nil {
		return nil
	}

	if !p.peekTokenIs(token.ELSE) {
		return expression
	}
	p.nextToken()

	// else if ... は else { if ... } と同じ形にする
	if p.peekTokenIs(token.IF) {
		p.nextToken()
		tok := p.curToken
		nested := p.parseIfExpression()
		if nested == nil {
			return nil
		}
		expression.Alternative = &ast.BlockStatement{
			Token:      tok,
			Statements: []ast.Statement{&ast.ExpressionStatement{Token: tok, Expression: nested}},
		}
		return expression
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}

	expression.Alternative = p.parseBlockStatement()
	if expression.Alternative == nil {
		return nil
	}

	return expression
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	array := &ast.ArrayLiteral{Token: p.curToken}

	elements, ok := p.parseExpressionList(token.RBRACKET)
	if !ok {
		return nil
	}
	array.Elements = elements

	return array
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	exp := &ast.IndexExpression{Token: p.curToken, Left: left}

	p.nextToken()
	exp.Index = p.parseExpression(LOWEST)
	if exp.Index == nil {
		return nil
	}

	if !p.expectPeek(token.RBRACKET) {
		return nil
	}

	return exp
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	exp := &ast.CallExpression{Token: p.curToken, Function: function}

	args, ok := p.parseExpressionList(token.RPAREN)
	if !ok {
		return nil
	}
	exp.Arguments = args

	return exp
}

// カンマ区切りの式をendまで解析する。末尾のカンマは許さない。
// ()
// (<expression>)
// (<expression>, <expression>, <expression>, ...)
func (p *Parser) parseExpressionList(end token.TokenType) ([]ast.Expression, bool) {
	list := []ast.Expression{}

	if p.peekTokenIs(end) {
		p.nextToken()
		return list, true
	}

	p.nextToken()
	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil, false
	}
	list = append(list, exp)

	for p.peekTokenIs(token.COMMA) {
		p.nextToken() // , にトークンを進める
		p.nextToken() // 次の要素にトークンを進める
		exp := p.parseExpression(LOWEST)
		if exp == nil {
			return nil, false
		}
		list = append(list, exp)
	}

	if !p.expectPeek(end) {
		return nil, false
	}

	return list, true
}

// #{ <expression>:<expression>, <expression>:<expression>, ... }
func (p *Parser) parseHashLiteral() ast.Expression {
	hash := &ast.HashLiteral{Token: p.curToken, Pairs: []ast.HashPair{}}

	if p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		return hash
	}

	for {
		p.nextToken()
		key := p.parseExpression(LOWEST)
		if key == nil {
			return nil
		}

		if !p.expectPeek(token.COLON) {
			return nil
		}

		p.nextToken()
		value := p.parseExpression(LOWEST)
		if value == nil {
			return nil
		}

		hash.Pairs = append(hash.Pairs, ast.HashPair{Key: key, Value: value})

		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}

	if !p.expectPeek(token.RBRACE) {
		return nil
	}

	return hash
}

// fn <parameters> <block statement>
func (p *Parser) parseFunctionLiteral() ast.Expression {
	lit := &ast.FunctionLiteral{Token: p.curToken}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}

	params, ok := p.parseFunctionParameters()
	if !ok {
		return nil
	}
	lit.Parameters = params

	if !p.expectPeek(token.LBRACE) {
		return nil
	}

	lit.Body = p.parseBlockStatement()
	if lit.Body == nil {
		return nil
	}

	return lit
}

// 引数の解析。以下の3つのバリエーションに対応する。
// (<IDENT>, <IDENT>, <IDENT>, ...)
// (<IDENT>)
// ()
func (p *Parser) parseFunctionParameters() ([]*ast.Identifier, bool) {
	identifiers := []*ast.Identifier{}

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return identifiers, true
	}

	if !p.expectPeek(token.IDENT) {
		return nil, false
	}
	identifiers = append(identifiers, &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal})

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		if !p.expectPeek(token.IDENT) {
			return nil, false
		}
		identifiers = append(identifiers, &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal})
	}

	if !p.expectPeek(token.RPAREN) {
		return nil, false
	}

	return identifiers, true
}

// curTokenが { の状態で呼ばれ、対応する } にcurTokenを置いて返る。
func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}

	p.nextToken()

	block.Statements = p.parseStatements(token.RBRACE)

	if !p.curTokenIs(token.RBRACE) {
		p.errorAt(p.curToken, "expected %s to close block opened at %d:%d, got %s instead",
			token.RBRACE, block.Token.Line, block.Token.Column, p.curToken.Type)
		return nil
	}

	return block
}

func (p *Parser) parseBlockExpression() ast.Expression {
	block := p.parseBlockStatement()
	if block == nil {
		return nil
	}
	return &ast.BlockExpression{Token: block.Token, Statements: block.Statements}
}

func (p *Parser) registerPrefix(tokenType token.TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}
