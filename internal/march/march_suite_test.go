package march_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMarch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "March Suite")
}
