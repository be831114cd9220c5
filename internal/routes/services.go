package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kelo-pay/kelo/internal/admin"
	"github.com/kelo-pay/kelo/internal/auth"
	"github.com/kelo-pay/kelo/internal/blockchain"
	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/did"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/orders"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/settlement"
	"github.com/kelo-pay/kelo/internal/siwe"
	"github.com/kelo-pay/kelo/internal/staking"
	"github.com/kelo-pay/kelo/internal/wallet"
	"github.com/kelo-pay/kelo/internal/zk"
)

// devIssuerSeed signs credentials when DID_ISSUER_SEED is unset in development.
const devIssuerSeed = "kelo-dev-issuer"

// Services holds every domain service built for the process.
type Services struct {
	Identity   *identity.Service
	Auth       *auth.Service
	Verifier   *siwe.Verifier
	Wallets    *wallet.Service
	Payments   *payments.Service
	Merchants  *merchant.Service
	Loans      *loans.Service
	Scores     *creditscore.Service
	Orders     *orders.Service
	Settlement *settlement.Service
	Admin      *admin.Service
	Chain      *blockchain.Service
	DIDs       *did.Service
	Staking    *staking.Service
	ZK         *zk.Service
	Inbox      notification.Inbox
	Logger     *slog.Logger
}

type repositories struct {
	ledger     ledger.Ledger
	identity   identity.Repository
	wallets    wallet.Repository
	payments   payments.Repository
	merchants  merchant.Repository
	loans      loans.Repository
	scores     creditscore.Repository
	orders     orders.Repository
	settlement settlement.Repository
	chain      blockchain.Repository
	dids       did.Repository
	staking    staking.Repository
	zk         zk.Repository
	inbox      notification.Inbox
	nonces     siwe.NonceStore
}

// newRepositories picks Postgres and Redis backends when configured and falls
// back to in-memory stores otherwise.
func newRepositories(d Deps) repositories {
	if d.DB == nil {
		r := repositories{
			ledger:     ledger.NewInMemory(),
			identity:   identity.NewMemoryRepository(),
			wallets:    wallet.NewMemoryRepository(),
			payments:   payments.NewMemoryRepository(),
			merchants:  merchant.NewMemoryRepository(),
			loans:      loans.NewMemoryRepository(),
			scores:     creditscore.NewMemoryRepository(),
			orders:     orders.NewMemoryRepository(),
			settlement: settlement.NewMemoryRepository(),
			chain:      blockchain.NewMemoryRepository(),
			dids:       did.NewMemoryRepository(),
			staking:    staking.NewMemoryRepository(staking.DefaultPools()...),
			zk:         zk.NewMemoryRepository(),
			inbox:      notification.NewMemoryInbox(),
		}
		r.nonces = nonceStore(d)
		return r
	}
	return repositories{
		ledger:     ledger.NewPostgresLedger(d.DB),
		identity:   identity.NewPostgresRepository(d.DB),
		wallets:    wallet.NewPostgresRepository(d.DB),
		payments:   payments.NewPostgresRepository(d.DB),
		merchants:  merchant.NewPostgresRepository(d.DB),
		loans:      loans.NewPostgresRepository(d.DB),
		scores:     creditscore.NewPostgresRepository(d.DB),
		orders:     orders.NewPostgresRepository(d.DB),
		settlement: settlement.NewPostgresRepository(d.DB),
		chain:      blockchain.NewPostgresRepository(d.DB),
		dids:       did.NewPostgresRepository(d.DB),
		staking:    staking.NewPostgresRepository(d.DB),
		zk:         zk.NewPostgresRepository(d.DB),
		inbox:      notification.NewPostgresInbox(d.DB),
		nonces:     nonceStore(d),
	}
}

func nonceStore(d Deps) siwe.NonceStore {
	if d.Cache != nil {
		return siwe.NewRedisNonceStore(d.Cache, d.Cfg.SIWENonceTTL)
	}
	return siwe.NewMemoryNonceStore(d.Cfg.SIWENonceTTL)
}

// NewServices wires the domain services together.
func NewServices(ctx context.Context, d Deps) (*Services, error) {
	d.Logger = logging.OrDiscard(d.Logger)
	cfg := d.Cfg
	repos := newRepositories(d)
	if err := ledger.EnsureSystemAccounts(ctx, repos.ledger); err != nil {
		return nil, fmt.Errorf("provision ledger accounts: %w", err)
	}

	notifier := notification.Fanout{
		notification.NewLoggerNotifier(d.Logger),
		notification.NewInboxNotifier(repos.inbox),
	}
	if d.Events != nil {
		notifier = append(notifier, notification.NewAMQPNotifier(d.Events, d.Logger))
	}

	s := &Services{Inbox: repos.inbox, Logger: d.Logger}
	s.Identity = identity.NewService(repos.identity)
	s.Auth = auth.NewService(cfg, repos.identity)
	s.Verifier = siwe.NewVerifier(cfg.SIWEDomain, repos.nonces)
	s.Wallets = wallet.NewService(repos.wallets, repos.ledger, cfg.Currency)
	s.Payments = payments.NewService(repos.payments, repos.ledger, s.Wallets, nil, notifier, d.Logger, cfg.Currency)
	s.Merchants = merchant.NewService(repos.merchants, repos.ledger, s.Payments, notifier, d.Logger, merchant.Config{
		DefaultFeeBps: cfg.MerchantFeeBps,
		MinPayout:     cfg.MinPayoutAmount,
		Currency:      cfg.Currency,
	})

	registry, err := blockchain.LoadRegistry(blockchain.Overrides{
		RPC:    cfg.RPCEndpoints,
		Mirror: map[string]string{"hedera-" + cfg.DIDNetwork: cfg.HederaMirrorURL},
	})
	if err != nil {
		return nil, err
	}
	s.Chain = blockchain.NewService(repos.chain, registry, s.Verifier, s.Identity, nil, nil, d.Logger)

	seed := cfg.DIDIssuerSeed
	if seed == "" {
		seed = devIssuerSeed
	}
	issuer, err := did.NewIssuer(seed, cfg.DIDNetwork)
	if err != nil {
		return nil, err
	}
	s.DIDs = did.NewService(repos.dids, issuer, s.Identity, cfg.DIDNetwork, d.Logger)

	// Scores read loan history and loans check scores, so the loan source is
	// bound once the loan service exists.
	s.Scores = creditscore.NewService(repos.scores, creditscore.Sources{
		Loans: creditscore.LoanStatsFunc(func(ctx context.Context, userID string) (creditscore.LoanStats, error) {
			return s.Loans.LoanStats(ctx, userID)
		}),
		Profiles: scoringProfiles{s.Identity},
		Chain:    s.Chain,
		DIDs:     s.DIDs,
	}, d.Logger)
	s.Loans = loans.NewService(repos.loans, repos.ledger, s.Payments, s.Scores, storeDirectory{s.Merchants}, notifier, d.Logger, loans.Config{
		MinAmount:        cfg.LoanMinAmount,
		MaxAmount:        cfg.LoanMaxAmount,
		InterestBps:      cfg.LoanInterestBps,
		DefaultAfterDays: cfg.DefaultAfterDays,
		Currency:         cfg.Currency,
	})
	s.Orders = orders.NewService(repos.orders, s.Merchants, s.Loans, s.Payments, repos.ledger, notifier, d.Logger, cfg.Currency)
	s.Loans.SetOrderHook(s.Orders)

	s.Settlement = settlement.NewService(repos.settlement, s.Merchants, s.Orders, cfg.MinPayoutAmount, d.Logger)
	s.Admin = admin.NewService(s.Identity, s.Merchants, s.Loans, s.Orders, notifier, d.Logger)
	s.Staking = staking.NewService(repos.staking, repos.ledger, s.Wallets, notifier, d.Logger, cfg.Currency)
	s.ZK = zk.NewService(repos.zk, s.Scores, d.Logger)
	return s, nil
}
