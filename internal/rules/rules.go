// Package rules exposes the operator-tunable settlement parameters. Values
// live in the settings store and are read on every operation, so changes
// apply without a deploy.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gavelhouse/settlement/internal/config"
	"github.com/gavelhouse/settlement/internal/store"
)

// Settings keys.
const (
	KeyMinStep           = "min_step"
	KeyJoinFee           = "join_fee"
	KeyReputationPenalty = "reputation_penalty"
	KeySnipeWindowSec    = "snipe_window_seconds"
	KeySnipeExtensionSec = "snipe_extension_seconds"
	KeyPaymentWindowSec  = "payment_window_seconds"
)

// RuleSet is one consistent snapshot of the settlement parameters.
type RuleSet struct {
	MinStep           int64
	JoinFee           int64
	ReputationPenalty int64
	SnipeWindow       time.Duration
	SnipeExtension    time.Duration
	PaymentWindow     time.Duration
}

// Provider returns the current rules.
type Provider interface {
	Rules(ctx context.Context) (RuleSet, error)
}

// StoreProvider reads rules from the settings repository, falling back to the
// configured defaults for keys that were never set.
type StoreProvider struct {
	settings store.SettingsRepository
	defaults RuleSet
}

// NewStoreProvider returns a StoreProvider with defaults taken from cfg.
func NewStoreProvider(settings store.SettingsRepository, cfg config.RulesConfig) *StoreProvider {
	return &StoreProvider{
		settings: settings,
		defaults: FromConfig(cfg),
	}
}

// FromConfig converts the YAML rule defaults into a RuleSet.
func FromConfig(cfg config.RulesConfig) RuleSet {
	return RuleSet{
		MinStep:           cfg.MinStep,
		JoinFee:           cfg.JoinFee,
		ReputationPenalty: cfg.ReputationPenalty,
		SnipeWindow:       cfg.SnipeWindow,
		SnipeExtension:    cfg.SnipeExtension,
		PaymentWindow:     cfg.PaymentWindow,
	}
}

// Rules reads every key fresh from the store.
func (p *StoreProvider) Rules(ctx context.Context) (RuleSet, error) {
	rs := p.defaults

	read := func(key string, dst *int64) error {
		v, err := p.settings.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading rule %s: %w", key, err)
		}
		*dst = v
		return nil
	}
	readDur := func(key string, dst *time.Duration) error {
		v, err := p.settings.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading rule %s: %w", key, err)
		}
		*dst = time.Duration(v) * time.Second
		return nil
	}

	if err := read(KeyMinStep, &rs.MinStep); err != nil {
		return RuleSet{}, err
	}
	if err := read(KeyJoinFee, &rs.JoinFee); err != nil {
		return RuleSet{}, err
	}
	if err := read(KeyReputationPenalty, &rs.ReputationPenalty); err != nil {
		return RuleSet{}, err
	}
	if err := readDur(KeySnipeWindowSec, &rs.SnipeWindow); err != nil {
		return RuleSet{}, err
	}
	if err := readDur(KeySnipeExtensionSec, &rs.SnipeExtension); err != nil {
		return RuleSet{}, err
	}
	if err := readDur(KeyPaymentWindowSec, &rs.PaymentWindow); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Static is a Provider that always returns the same RuleSet. Used in tests.
type Static struct {
	Set RuleSet
}

// Rules returns the fixed RuleSet.
func (s Static) Rules(context.Context) (RuleSet, error) {
	return s.Set, nil
}
