package notify

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/aggregate"
	"walletScope/internal/model"
)

// TokenResolver returns display metadata for a token.
type TokenResolver interface {
	Resolve(ctx context.Context, token common.Address) model.TokenMeta
}

// ChainInfo is the display metadata of one chain.
type ChainInfo struct {
	Symbol   string
	Explorer string
	Tokens   TokenResolver
}

// Renderer formats records as Telegram MarkdownV2.
type Renderer struct {
	chains map[string]ChainInfo
}

func NewRenderer(chains map[string]ChainInfo) *Renderer {
	return &Renderer{chains: chains}
}

// Render formats one record.
func (r *Renderer) Render(ctx context.Context, rec model.PnLRecord) string {
	info := r.chains[rec.Chain]
	symbol := info.Symbol
	if symbol == "" {
		symbol = "ETH"
	}

	var b strings.Builder
	builderTag := ""
	if rec.HasBuilderReward() {
		builderTag = ` \[B\]`
	}
	fmt.Fprintf(&b, "%s · \\#%s · %s%s\n",
		link(info.Explorer, "address/"+rec.Address, Escape(rec.Wallet)),
		Escape(strings.ToUpper(rec.Chain)),
		link(info.Explorer, "block/"+strconv.FormatUint(rec.BlockNumber, 10), strconv.FormatUint(rec.BlockNumber, 10)),
		builderTag,
	)
	fmt.Fprintf(&b, "%s: *%s*\n", Escape(symbol), Escape(rec.NativeDelta))

	for _, line := range rec.TokenDeltas {
		token := common.HexToAddress(line.Asset)
		name := shortAddress(token)
		decimals := uint8(18)
		if info.Tokens != nil {
			meta := info.Tokens.Resolve(ctx, token)
			decimals = meta.Decimals
			if meta.Symbol != "" {
				name = truncate(meta.Symbol, 12)
			}
		}
		amount := line.Amount
		if v, ok := parseInt(line.Amount); ok {
			amount = aggregate.FormatAmount(v, decimals)
		}
		suffix := ""
		if !line.Priced {
			suffix = " \\(unpriced\\)"
		}
		fmt.Fprintf(&b, "%s: %s%s\n",
			link(info.Explorer, "token/"+line.Asset+"?a="+rec.Address, Escape(name)),
			Escape(amount),
			suffix,
		)
	}
	if len(rec.TokenDeltas) > 0 {
		fmt.Fprintf(&b, "Total: *%s %s*\n", Escape(rec.Total), Escape(symbol))
	}
	if rec.HasBuilderReward() {
		fmt.Fprintf(&b, "Builder reward: %s\n", Escape(rec.BuilderReward))
	}
	if rec.BuilderIncome != "" {
		fmt.Fprintf(&b, "Builder income: %s\n", Escape(rec.BuilderIncome))
	}
	if rec.ProposerPayment != "" && rec.ProposerPayment != "0" {
		fmt.Fprintf(&b, "VBribe: %s\n", Escape(rec.ProposerPayment))
	}
	if rec.IncompleteAccounting || rec.Untrusted {
		b.WriteString("_accounting incomplete_\n")
	}

	width := 1
	for _, tx := range rec.Txs {
		if n := len(strconv.FormatUint(tx.Index, 10)); n > width {
			width = n
		}
	}
	for _, tx := range rec.Txs {
		status := "✓"
		if !tx.Success {
			status = "✗"
		}
		index := strconv.FormatUint(tx.Index, 10)
		fmt.Fprintf(&b, "\\[`%s%s`\\] %s %s\n",
			strings.Repeat(" ", width-len(index)),
			index,
			status,
			link(info.Explorer, "tx/"+tx.Hash, Escape(shortHash(tx.Hash))),
		)
	}
	return b.String()
}

const markdownSpecial = "_*[]()~`>#+-=|{}.!\\"

// Escape escapes text for Telegram MarkdownV2.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func link(explorer, path, text string) string {
	if explorer == "" {
		return text
	}
	url := strings.TrimRight(explorer, "/") + "/" + path
	url = strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(url)
	return "[" + text + "](" + url + ")"
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

func shortHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:8] + "…" + hash[len(hash)-6:]
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func parseInt(text string) (*big.Int, bool) {
	return new(big.Int).SetString(text, 10)
}
