package storage

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("mapError", func() {
	It("should map missing rows to ErrNotFound", func() {
		err := mapError("storage.FindByShortID", pgx.ErrNoRows)
		Expect(err).To(MatchError(ErrNotFound))
		Expect(err.Error()).To(HavePrefix("storage.FindByShortID"))
	})

	It("should map unique violations to ErrConflict", func() {
		err := mapError("storage.Insert", &pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			ConstraintName: "short_urls_short_id_key",
		})
		Expect(err).To(MatchError(ErrConflict))
		Expect(err.Error()).To(ContainSubstring("short_urls_short_id_key"))
	})

	It("should keep other errors as they are", func() {
		cause := errors.New("connection reset")
		err := mapError("storage.Insert", cause)
		Expect(err).To(MatchError(cause))
		Expect(errors.Is(err, ErrNotFound)).To(BeFalse())
		Expect(errors.Is(err, ErrConflict)).To(BeFalse())
	})

	It("should not treat other constraint errors as conflicts", func() {
		err := mapError("storage.ApplyClickDeltas", &pgconn.PgError{
			Code: pgerrcode.CheckViolation,
		})
		Expect(errors.Is(err, ErrConflict)).To(BeFalse())
	})
})
