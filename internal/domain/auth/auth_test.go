package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tally/internal/domain/auth"
	"github.com/smartystreets/goconvey/convey"
)

func TestResolvers(t *testing.T) {
	convey.Convey("Given the built-in resolvers", t, func() {
		ctx := context.Background()

		convey.Convey("When the context carries a user", func() {
			id, ok := auth.ContextResolver{}.CurrentUserID(auth.WithUserID(ctx, "learner-1"))

			convey.So(ok, convey.ShouldBeTrue)
			convey.So(id, convey.ShouldEqual, "learner-1")
		})

		convey.Convey("When the context is anonymous", func() {
			_, ok := auth.ContextResolver{}.CurrentUserID(ctx)
			convey.So(ok, convey.ShouldBeFalse)

			_, ok = auth.ContextResolver{}.CurrentUserID(auth.WithUserID(ctx, ""))
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("When a static resolver is used", func() {
			id, ok := auth.StaticResolver("u").CurrentUserID(ctx)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(id, convey.ShouldEqual, "u")

			_, ok = auth.StaticResolver("").CurrentUserID(ctx)
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}

func TestTokenVerifier(t *testing.T) {
	convey.Convey("Given a token verifier", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		v, err := auth.NewTokenVerifier("s3cret", auth.WithClock(func() time.Time { return now }))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When a token it issued is verified", func() {
			tok, err := v.Issue("learner-9", time.Hour)
			convey.So(err, convey.ShouldBeNil)

			sub, err := v.Verify(tok)

			convey.Convey("Then the subject is the user id", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub, convey.ShouldEqual, "learner-9")
			})
		})

		convey.Convey("When the token is signed with another secret", func() {
			other, _ := auth.NewTokenVerifier("different", auth.WithClock(func() time.Time { return now }))
			tok, _ := other.Issue("learner-9", time.Hour)

			_, err := v.Verify(tok)

			convey.So(errors.Is(err, auth.ErrInvalidToken), convey.ShouldBeTrue)
		})

		convey.Convey("When the token has expired", func() {
			tok, _ := v.Issue("learner-9", -time.Minute)

			_, err := v.Verify(tok)

			convey.So(errors.Is(err, auth.ErrInvalidToken), convey.ShouldBeTrue)
		})

		convey.Convey("When the issuer differs", func() {
			other, _ := auth.NewTokenVerifier("s3cret", auth.WithIssuer("elsewhere"), auth.WithClock(func() time.Time { return now }))
			tok, _ := other.Issue("learner-9", time.Hour)

			_, err := v.Verify(tok)

			convey.So(errors.Is(err, auth.ErrInvalidToken), convey.ShouldBeTrue)
		})

		convey.Convey("When the token is empty or garbage", func() {
			_, err := v.Verify("  ")
			convey.So(errors.Is(err, auth.ErrMissingToken), convey.ShouldBeTrue)

			_, err = v.Verify("not.a.jwt")
			convey.So(errors.Is(err, auth.ErrInvalidToken), convey.ShouldBeTrue)
		})

		convey.Convey("When the subject is empty", func() {
			_, err := v.Issue(" ", time.Hour)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given no secret", t, func() {
		_, err := auth.NewTokenVerifier("")
		convey.So(errors.Is(err, auth.ErrNoSecret), convey.ShouldBeTrue)
	})
}

func TestBearerToken(t *testing.T) {
	convey.Convey("Given Authorization header values", t, func() {
		tok, ok := auth.BearerToken("Bearer abc.def")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(tok, convey.ShouldEqual, "abc.def")

		tok, ok = auth.BearerToken("bearer   xyz ")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(tok, convey.ShouldEqual, "xyz")

		_, ok = auth.BearerToken("Basic dXNlcg==")
		convey.So(ok, convey.ShouldBeFalse)

		_, ok = auth.BearerToken("Bearer ")
		convey.So(ok, convey.ShouldBeFalse)
	})
}
