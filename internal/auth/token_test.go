package auth_test

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/employee-management/internal"
	"github.com/frahmantamala/employee-management/internal/auth"
)

var _ = ginkgo.Describe("JWTTokenGenerator", func() {
	var (
		clock    *fakeClock
		tokenGen *auth.JWTTokenGenerator
		issuedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	)

	ginkgo.BeforeEach(func() {
		var err error
		clock = newFakeClock(issuedAt)
		tokenGen, err = auth.NewJWTTokenGenerator(testAccessSecret, testRefreshSecret, 0, 0, auth.WithClock(clock.Now))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
	})

	ginkgo.It("should default to 15 minute access and 7 day refresh lifetimes", func() {
		gomega.Expect(tokenGen.AccessTokenTTL).To(gomega.Equal(15 * time.Minute))
		gomega.Expect(tokenGen.RefreshTTL()).To(gomega.Equal(7 * 24 * time.Hour))
	})

	ginkgo.It("should fail with a fatal configuration error when the access secret is missing", func() {
		_, err := auth.NewJWTTokenGenerator("", testRefreshSecret, 0, 0)
		gomega.Expect(errors.Is(err, internal.ErrConfigurationFatal)).To(gomega.BeTrue())
	})

	ginkgo.Describe("access tokens", func() {
		ginkgo.It("should carry only the user id and role", func() {
			token, err := tokenGen.IssueAccessToken("user-1", "hr")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			claims, err := tokenGen.ParseAccessToken(token)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(claims.UserID).To(gomega.Equal("user-1"))
			gomega.Expect(claims.Role).To(gomega.Equal("hr"))
			gomega.Expect(claims.ExpiresAt.Time).To(gomega.BeTemporally("==", issuedAt.Add(15*time.Minute)))

			raw := jwt.MapClaims{}
			_, _, err = jwt.NewParser().ParseUnverified(token, raw)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(raw).NotTo(gomega.HaveKey("tokenVersion"))
		})

		ginkgo.DescribeTable("expiry",
			func(elapsed time.Duration, accepted bool) {
				token, err := tokenGen.IssueAccessToken("user-1", "employee")
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				clock.Advance(elapsed)
				_, err = tokenGen.ParseAccessToken(token)
				if accepted {
					gomega.Expect(err).NotTo(gomega.HaveOccurred())
				} else {
					gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenExpired))
				}
			},
			ginkgo.Entry("at issuance", time.Duration(0), true),
			ginkgo.Entry("one second before expiry", 15*time.Minute-time.Second, true),
			ginkgo.Entry("exactly at expiry", 15*time.Minute, false),
			ginkgo.Entry("one second after expiry", 15*time.Minute+time.Second, false),
			ginkgo.Entry("a day later", 24*time.Hour, false),
		)

		ginkgo.It("should reject tokens signed with another key", func() {
			other, err := auth.NewJWTTokenGenerator("another-secret", "", 0, 0, auth.WithClock(clock.Now))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			token, err := other.IssueAccessToken("user-1", "employee")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			_, err = tokenGen.ParseAccessToken(token)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
		})

		ginkgo.It("should reject tokens using a different algorithm", func() {
			claims := jwt.MapClaims{
				"userId": "user-1",
				"role":   "super_admin",
				"typ":    "access",
				"exp":    issuedAt.Add(time.Hour).Unix(),
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			_, err = tokenGen.ParseAccessToken(token)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
		})

		ginkgo.It("should reject garbage", func() {
			_, err := tokenGen.ParseAccessToken("not-a-jwt")
			gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
		})
	})

	ginkgo.Describe("refresh tokens", func() {
		ginkgo.It("should embed the token version and a unique id", func() {
			first, firstClaims, err := tokenGen.IssueRefreshToken("user-1", "manager", 3)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			second, secondClaims, err := tokenGen.IssueRefreshToken("user-1", "manager", 3)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(first).NotTo(gomega.Equal(second))
			gomega.Expect(firstClaims.ID).NotTo(gomega.Equal(secondClaims.ID))

			claims, err := tokenGen.ParseRefreshToken(first)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(claims.UserID).To(gomega.Equal("user-1"))
			gomega.Expect(claims.Role).To(gomega.Equal("manager"))
			gomega.Expect(claims.TokenVersion).To(gomega.Equal(3))
			gomega.Expect(claims.ExpiresAt.Time).To(gomega.BeTemporally("==", issuedAt.Add(7*24*time.Hour)))
		})

		ginkgo.It("should not verify a refresh token with the access key", func() {
			token, _, err := tokenGen.IssueRefreshToken("user-1", "manager", 0)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			_, err = tokenGen.ParseAccessToken(token)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
		})

		ginkgo.It("should expire after the refresh lifetime", func() {
			token, _, err := tokenGen.IssueRefreshToken("user-1", "manager", 0)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			clock.Advance(7 * 24 * time.Hour)
			_, err = tokenGen.ParseRefreshToken(token)
			gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenExpired))
		})

		ginkgo.Context("when no dedicated refresh secret is configured", func() {
			ginkgo.BeforeEach(func() {
				var err error
				tokenGen, err = auth.NewJWTTokenGenerator(testAccessSecret, "", 0, 0, auth.WithClock(clock.Now))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
			})

			ginkgo.It("should sign refresh tokens with the access secret", func() {
				gomega.Expect(tokenGen.RefreshTokenSecret).To(gomega.Equal([]byte(testAccessSecret)))

				token, _, err := tokenGen.IssueRefreshToken("user-1", "employee", 0)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				_, err = tokenGen.ParseRefreshToken(token)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
			})

			ginkgo.It("should still refuse an access token presented as a refresh token", func() {
				token, err := tokenGen.IssueAccessToken("user-1", "employee")
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				_, err = tokenGen.ParseRefreshToken(token)
				gomega.Expect(err).To(gomega.MatchError(auth.ErrInvalidToken))
			})
		})
	})
})
