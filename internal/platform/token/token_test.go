package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"phivault/pkg/domain"
)

type ValidatorSuite struct {
	suite.Suite
	validator *Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.validator = NewValidator([]byte("signing-key"), "phivault")
}

func (s *ValidatorSuite) TestIssueAndValidate() {
	raw, err := s.validator.Issue(domain.Actor{
		ID:    "officer-1",
		Email: "officer@example.org",
		Role:  domain.RoleCompliance,
	}, time.Hour)
	s.Require().NoError(err)

	actor, err := s.validator.Validate(raw)
	s.Require().NoError(err)
	s.Equal("officer-1", actor.ID)
	s.Equal("officer@example.org", actor.Email)
	s.Equal(domain.RoleCompliance, actor.Role)
}

func (s *ValidatorSuite) TestRejectsExpired() {
	raw, err := s.validator.Issue(domain.Actor{ID: "a", Role: domain.RoleSubmitter}, -time.Minute)
	s.Require().NoError(err)

	_, err = s.validator.Validate(raw)
	s.Require().Error(err)
}

func (s *ValidatorSuite) TestRejectsWrongKey() {
	other := NewValidator([]byte("different-key"), "phivault")
	raw, err := other.Issue(domain.Actor{ID: "a", Role: domain.RoleSubmitter}, time.Hour)
	s.Require().NoError(err)

	_, err = s.validator.Validate(raw)
	s.Require().Error(err)
}

func (s *ValidatorSuite) TestRejectsWrongIssuer() {
	other := NewValidator([]byte("signing-key"), "someone-else")
	raw, err := other.Issue(domain.Actor{ID: "a", Role: domain.RoleSubmitter}, time.Hour)
	s.Require().NoError(err)

	_, err = s.validator.Validate(raw)
	s.Require().Error(err)
}

func (s *ValidatorSuite) TestRejectsUnknownRole() {
	claims := &Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a",
			Issuer:    "phivault",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("signing-key"))
	s.Require().NoError(err)

	_, err = s.validator.Validate(raw)
	s.Require().Error(err)
}

func (s *ValidatorSuite) TestRejectsMissingSubject() {
	claims := &Claims{
		Role: string(domain.RoleSubmitter),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "phivault",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("signing-key"))
	s.Require().NoError(err)

	_, err = s.validator.Validate(raw)
	s.Require().Error(err)
}
