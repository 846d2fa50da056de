package attribution

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"walletScope/internal/model"
)

// Grouping is the attribution of one block.
type Grouping struct {
	Groups []model.AttributionGroup
	// Involvement maps a transaction index to the wallets it touches.
	Involvement map[uint64][]Involvement
}

// Grouper partitions a block's transactions by shared wallet exposure.
type Grouper struct {
	watch *WatchList
}

func NewGrouper(watch *WatchList) *Grouper {
	return &Grouper{watch: watch}
}

type exposureKey struct {
	wallet       int
	counterparty common.Address
}

// Group links watched transactions that share a (wallet, counterparty) exposure, then pulls in
// an unwatched transaction when it touches exposures of the same wallet both before and after it.
// All transactions of a wallet that built the block form one producer group.
func (g *Grouper) Group(block *model.Block, ledgers []model.TxLedger) Grouping {
	result := Grouping{Involvement: make(map[uint64][]Involvement)}
	n := len(ledgers)
	uf := newUnionFind(n)

	exposures := make([]map[exposureKey]struct{}, n)
	watched := make([]bool, n)
	byKey := make(map[exposureKey][]int)
	producerWallets := make(map[int]struct{})
	for i := 0; i < g.watch.Len(); i++ {
		if g.watch.Wallet(i).IsBuilder(block.Beneficiary) {
			producerWallets[i] = struct{}{}
		}
	}
	producerFirst := -1

	for pos := range ledgers {
		ledger := &ledgers[pos]
		involvement := g.watch.Involvement(ledger)
		if len(involvement) == 0 {
			continue
		}
		watched[pos] = true
		result.Involvement[ledger.TxIndex] = involvement
		exposures[pos] = make(map[exposureKey]struct{})
		for _, inv := range involvement {
			if _, ok := producerWallets[inv.Wallet]; ok {
				if producerFirst < 0 {
					producerFirst = pos
				} else {
					uf.union(producerFirst, pos)
				}
			}
			for _, cp := range counterparties(ledger, inv.Addresses, block.Beneficiary) {
				key := exposureKey{wallet: inv.Wallet, counterparty: cp}
				if _, seen := exposures[pos][key]; seen {
					continue
				}
				exposures[pos][key] = struct{}{}
				byKey[key] = append(byKey[key], pos)
			}
		}
	}

	for _, members := range byKey {
		for _, pos := range members[1:] {
			uf.union(members[0], pos)
		}
	}

	for pos := range ledgers {
		if watched[pos] {
			continue
		}
		touched := touchedAddresses(&ledgers[pos])
		for wallet := 0; wallet < g.watch.Len(); wallet++ {
			before := nearestExposed(exposures, watched, pos, -1, wallet, touched)
			if before < 0 {
				continue
			}
			after := nearestExposed(exposures, watched, pos, 1, wallet, touched)
			if after < 0 {
				continue
			}
			uf.union(before, pos)
			uf.union(after, pos)
		}
	}

	components := make(map[int][]int)
	roots := make([]int, 0)
	for pos := range ledgers {
		if !watched[pos] {
			continue
		}
		root := uf.find(pos)
		if _, ok := components[root]; !ok {
			roots = append(roots, root)
		}
		components[root] = nil
	}
	for pos := range ledgers {
		root := uf.find(pos)
		if _, ok := components[root]; ok {
			components[root] = append(components[root], pos)
		}
	}

	producerRoot := -1
	if producerFirst >= 0 {
		producerRoot = uf.find(producerFirst)
	}
	for _, root := range roots {
		positions := components[root]
		group := model.AttributionGroup{Members: make([]uint64, 0, len(positions))}
		walletSeen := make(map[int]struct{})
		for _, pos := range positions {
			index := ledgers[pos].TxIndex
			group.Members = append(group.Members, index)
			for _, inv := range result.Involvement[index] {
				walletSeen[inv.Wallet] = struct{}{}
			}
		}
		sort.Slice(group.Members, func(i, j int) bool { return group.Members[i] < group.Members[j] })
		if root == producerRoot {
			for w := range producerWallets {
				walletSeen[w] = struct{}{}
			}
		}
		group.Wallets = g.walletNames(walletSeen)

		switch {
		case root == producerRoot:
			group.ID = producerGroupID(block.Number)
			group.Pattern = model.PatternProducer
		case len(group.Members) == 1:
			group.ID = fmt.Sprintf("%d:%d", block.Number, group.Members[0])
			group.Pattern = model.PatternSingle
		default:
			group.ID = fmt.Sprintf("%d:%d", block.Number, group.Members[0])
			group.Pattern = model.PatternMulti
		}
		result.Groups = append(result.Groups, group)
	}

	if len(producerWallets) > 0 && producerRoot < 0 {
		result.Groups = append(result.Groups, model.AttributionGroup{
			ID:      producerGroupID(block.Number),
			Pattern: model.PatternProducer,
			Wallets: g.walletNames(producerWallets),
		})
	}

	sort.SliceStable(result.Groups, func(i, j int) bool {
		gi, gj := result.Groups[i], result.Groups[j]
		if len(gi.Members) == 0 || len(gj.Members) == 0 {
			return len(gi.Members) > len(gj.Members)
		}
		return gi.Members[0] < gj.Members[0]
	})
	return result
}

func (g *Grouper) walletNames(set map[int]struct{}) []string {
	idx := make([]int, 0, len(set))
	for w := range set {
		idx = append(idx, w)
	}
	sort.Ints(idx)
	names := make([]string, 0, len(idx))
	for _, w := range idx {
		names = append(names, g.watch.Wallet(w).Name)
	}
	return names
}

func producerGroupID(height uint64) string {
	return fmt.Sprintf("%d:producer", height)
}

// counterparties returns the addresses the wallet exchanged assets with, plus the target
// of a transaction it sent. Its own addresses, the zero address and the producer are excluded.
func counterparties(ledger *model.TxLedger, own map[common.Address]struct{}, beneficiary common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	out := make([]common.Address, 0)
	add := func(addr common.Address) {
		if addr == (common.Address{}) || addr == beneficiary {
			return
		}
		if _, mine := own[addr]; mine {
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	if _, sent := own[ledger.Sender]; sent && ledger.Target != nil {
		add(*ledger.Target)
	}
	for _, d := range ledger.Deltas {
		if d.Kind != model.DeltaTransfer {
			continue
		}
		if _, mine := own[d.Address]; !mine {
			continue
		}
		add(d.Counterparty)
	}
	return out
}

func touchedAddresses(ledger *model.TxLedger) map[common.Address]struct{} {
	set := map[common.Address]struct{}{ledger.Sender: {}}
	if ledger.Target != nil {
		set[*ledger.Target] = struct{}{}
	}
	for _, d := range ledger.Deltas {
		if d.Kind == model.DeltaNetworkSink {
			continue
		}
		set[d.Address] = struct{}{}
	}
	return set
}

func nearestExposed(exposures []map[exposureKey]struct{}, watched []bool, from, step, wallet int, touched map[common.Address]struct{}) int {
	for pos := from + step; pos >= 0 && pos < len(watched); pos += step {
		if !watched[pos] {
			continue
		}
		for key := range exposures[pos] {
			if key.wallet != wallet {
				continue
			}
			if _, ok := touched[key.counterparty]; ok {
				return pos
			}
		}
	}
	return -1
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union keeps the smaller index as root so roots are stable across runs.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
