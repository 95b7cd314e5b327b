package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

func TestCreateStudent(t *testing.T) {
	store := newFakeStore()
	svc := NewStudentService(fakeStudentRepo{store}, nil, nil)
	ctx := context.Background()

	student, err := svc.Create(ctx, models.CreateStudentRequest{SchoolIDTag: " TAG-9 ", FirstName: "Ada", LastName: "Byron", Grade: "3"})
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, "TAG-9", student.SchoolIDTag)

	_, err = svc.Create(ctx, models.CreateStudentRequest{SchoolIDTag: "TAG-9", FirstName: "Alan", LastName: "Turing", Grade: "4"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, models.CreateStudentRequest{FirstName: "No", LastName: "Tag", Grade: "1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	students, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, students, 1)
}
