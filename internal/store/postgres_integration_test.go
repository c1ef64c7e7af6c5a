// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/synthstack/authcore/internal/store"
)

var _ = Describe("Schema", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("authcore_test"),
			postgres.WithUsername("authcore"),
			postgres.WithPassword("authcore"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Open(ctx, connStr, store.PoolConfig{MaxConns: 4})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("rejects a second user whose email differs only in case", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ('01J00000000000000000000001', 'Ann@Example.com')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ('01J00000000000000000000002', 'ann@example.com')`)
		Expect(err).To(HaveOccurred())
	})

	It("cascades user deletion to credentials and sessions", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ('01J00000000000000000000003', 'bob@example.com')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `INSERT INTO password_credentials (user_id, password_hash) VALUES ('01J00000000000000000000003', 'x')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `
			INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, expires_at)
			VALUES ('01J00000000000000000000004', '01J00000000000000000000003', 'a', 'r', NOW() + INTERVAL '1 hour')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = '01J00000000000000000000003'`)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = '01J00000000000000000000003'`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM password_credentials WHERE user_id = '01J00000000000000000000003'`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("enforces unique refresh token digests", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ('01J00000000000000000000005', 'cy@example.com')`)
		Expect(err).NotTo(HaveOccurred())
		insert := `INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, expires_at)
			VALUES ($1, '01J00000000000000000000005', 'a', 'same', NOW() + INTERVAL '1 hour')`
		_, err = pool.Exec(ctx, insert, "01J00000000000000000000006")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insert, "01J00000000000000000000007")
		Expect(err).To(HaveOccurred())
	})
})
