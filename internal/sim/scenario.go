// Package sim generates mixed legitimate and hostile traffic for a running
// payvault-api instance. The hostile share is deliberate: a run exists to
// watch the route-class guards trip and the security feed fill up.
package sim

import (
	"math/rand"
	"sync"
	"time"
)

// Actor is one scripted customer identity.
type Actor struct {
	Username      string
	FullName      string
	NationalID    string
	AccountNumber string
	Password      string
}

// PaymentTemplate bounds the drafts a run submits. Amounts are drawn in
// minor units so every generated value lands on two decimals.
type PaymentTemplate struct {
	Provider     string
	PayeeAccount string
	PayeeName    string
	SwiftCode    string
	Currency     string
	MinMinor     int64
	MaxMinor     int64
}

// Scenario is a self-contained cast plus the traffic shapes drawn from it.
type Scenario struct {
	Name          string
	Actors        []Actor
	Payments      []PaymentTemplate
	HostileLogins []string
	HostileKeys   []string
}

// RetailAbuseScenario mixes ordinary retail payments with the attack shapes
// the detectors are expected to flag.
func RetailAbuseScenario() Scenario {
	return Scenario{
		Name: "RetailAbuseMix",
		Actors: []Actor{
			{Username: "sim_amina", FullName: "Amina Khumalo", NationalID: "9001015009087", AccountNumber: "1000000001", Password: "S1m!Passw0rd"},
			{Username: "sim_thabo", FullName: "Thabo Mokoena", NationalID: "8202204800084", AccountNumber: "1000000002", Password: "S1m!Passw0rd"},
			{Username: "sim_lerato", FullName: "Lerato Dlamini", NationalID: "7509015800085", AccountNumber: "1000000003", Password: "S1m!Passw0rd"},
		},
		Payments: []PaymentTemplate{
			{Provider: "SWIFT Transfers", PayeeAccount: "4455667788", PayeeName: "Global Exports Ltd", SwiftCode: "ABSAZAJJ", Currency: "ZAR", MinMinor: 5_000, MaxMinor: 2_000_000},
			{Provider: "Atlas Clearing House", PayeeAccount: "9988776655", PayeeName: "Northwind Traders", SwiftCode: "DEUTDEFF", Currency: "EUR", MinMinor: 1_000, MaxMinor: 500_000},
			{Provider: "Meridian Remittance", PayeeAccount: "5544332211", PayeeName: "Harbor Freight Co", SwiftCode: "CITIUS33", Currency: "USD", MinMinor: 2_500, MaxMinor: 750_000},
		},
		HostileLogins: []string{
			"admin' OR '1'='1",
			"<script>alert(document.cookie)</script>",
			"{$ne: null}",
		},
		HostileKeys: []string{
			"key'; DROP TABLE payments --",
			"../../etc/passwd",
		},
	}
}

// Kind tags one generated action.
type Kind int

const (
	KindLogin Kind = iota
	KindPayment
	KindBadPassword
	KindHostileLogin
	KindHostileKey
)

// Action is one unit of traffic for a worker to play.
type Action struct {
	Kind     Kind
	Actor    Actor
	Template PaymentTemplate
	Amount   float64
	Hostile  string
}

// Generator draws actions from a scenario with a configured hostile share.
// Safe for concurrent use by the worker pool.
type Generator struct {
	scenario Scenario
	hostile  float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator seeds a generator over the retail scenario. hostile is the
// fraction of attack-shaped actions, clamped to [0, 1].
func NewGenerator(seed int64, hostile float64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if hostile < 0 {
		hostile = 0
	}
	if hostile > 1 {
		hostile = 1
	}
	return &Generator{scenario: RetailAbuseScenario(), hostile: hostile, rnd: rand.New(rand.NewSource(seed))}
}

// Actors returns a copy of the scenario cast for pre-run seeding.
func (g *Generator) Actors() []Actor {
	return append([]Actor(nil), g.scenario.Actors...)
}

// Next draws one action. Legitimate traffic splits between fresh logins and
// payments; hostile traffic rotates through bad passwords and probe strings.
func (g *Generator) Next() Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	actor := g.scenario.Actors[g.rnd.Intn(len(g.scenario.Actors))]
	if g.rnd.Float64() < g.hostile {
		switch g.rnd.Intn(3) {
		case 0:
			return Action{Kind: KindHostileLogin, Actor: actor, Hostile: pick(g.rnd, g.scenario.HostileLogins)}
		case 1:
			tpl := g.scenario.Payments[g.rnd.Intn(len(g.scenario.Payments))]
			return Action{Kind: KindHostileKey, Actor: actor, Template: tpl, Amount: g.amount(tpl), Hostile: pick(g.rnd, g.scenario.HostileKeys)}
		default:
			return Action{Kind: KindBadPassword, Actor: actor}
		}
	}
	if g.rnd.Intn(4) == 0 {
		return Action{Kind: KindLogin, Actor: actor}
	}
	tpl := g.scenario.Payments[g.rnd.Intn(len(g.scenario.Payments))]
	return Action{Kind: KindPayment, Actor: actor, Template: tpl, Amount: g.amount(tpl)}
}

// amount expects g.mu held.
func (g *Generator) amount(tpl PaymentTemplate) float64 {
	minor := tpl.MinMinor + g.rnd.Int63n(tpl.MaxMinor-tpl.MinMinor+1)
	return float64(minor) / 100
}

func pick(rnd *rand.Rand, values []string) string {
	return values[rnd.Intn(len(values))]
}
