package stack

import (
	"encoding/json"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/chazu/lakegraph/pkg/graph"
)

const testAccount = "123456789012"

func forProviderOf(n *graph.Node) map[string]interface{} {
	fp, found, err := unstructured.NestedMap(n.Object.Object, "spec", "forProvider")
	Expect(err).NotTo(HaveOccurred())
	Expect(found).To(BeTrue())
	return fp
}

var _ = Describe("Build", func() {
	var (
		s *Stack
		g *graph.Graph
	)

	BeforeEach(func() {
		var err error
		s, err = Build(Config{AccountID: testAccount})
		Expect(err).NotTo(HaveOccurred())
		g = s.Graph()
	})

	Context("with account 123456789012", func() {
		It("derives the bucket name from the account", func() {
			Expect(s.Bucket.Name).To(Equal("123456789012-datalake"))

			n, found := g.Node(NodeBucket)
			Expect(found).To(BeTrue())
			Expect(n.Kind()).To(Equal("Bucket"))
			Expect(n.Object.GetAnnotations()).To(HaveKeyWithValue("crossplane.io/external-name", "123456789012-datalake"))
		})

		It("targets the format prefixes of the bucket", func() {
			csv, found := s.Crawler(FormatCSV)
			Expect(found).To(BeTrue())
			Expect(csv.TargetPath).To(Equal("s3://123456789012-datalake/raw/csv/transactions/"))
			Expect(csv.Name).To(Equal("transaction_csv_crawler"))

			parquet, found := s.Crawler(FormatParquet)
			Expect(found).To(BeTrue())
			Expect(parquet.TargetPath).To(Equal("s3://123456789012-datalake/raw/parquet/transactions/"))
			Expect(parquet.Name).To(Equal("transaction_parquet_crawler"))

			n, _ := g.Node(NodeCSVCrawler)
			targets, _, _ := unstructured.NestedSlice(forProviderOf(n), "s3Target")
			Expect(targets).To(ConsistOf(HaveKeyWithValue("path", "s3://123456789012-datalake/raw/csv/transactions/")))
		})

		It("names the database datalake", func() {
			Expect(s.Database.Name).To(Equal("datalake"))
			n, _ := g.Node(NodeDatabase)
			Expect(forProviderOf(n)).To(HaveKeyWithValue("catalogId", testAccount))
		})

		It("destroys the bucket with the stack", func() {
			n, _ := g.Node(NodeBucket)
			policy, _, _ := unstructured.NestedString(n.Object.Object, "spec", "deletionPolicy")
			Expect(policy).To(Equal("Delete"))
		})

		It("stamps metadata and a render hash", func() {
			Expect(g.Metadata.Account).To(Equal(testAccount))
			Expect(g.Metadata.Region).To(Equal(DefaultRegion))
			Expect(g.Metadata.Version).To(Equal(GraphVersion))
			Expect(g.Metadata.RenderHash).To(Equal(g.ComputeHash()))
		})
	})

	It("declares five descriptors without duplicate names", func() {
		resources := s.Resources()
		kinds := map[ResourceKind]int{}
		names := map[string]bool{}
		for _, r := range resources {
			kinds[r.Kind()]++
			Expect(names).NotTo(HaveKey(r.ResourceName()))
			names[r.ResourceName()] = true
		}
		Expect(kinds).To(HaveLen(5))
		Expect(kinds[KindCrawlerJob]).To(Equal(2))

		Expect(g.Nodes).To(HaveLen(len(resources)))
		Expect(g.Validate()).To(Succeed())
	})

	It("gives both crawlers the same schema change policy", func() {
		for _, id := range []string{NodeCSVCrawler, NodeParquetCrawler} {
			n, found := g.Node(id)
			Expect(found).To(BeTrue())
			policies, _, _ := unstructured.NestedSlice(forProviderOf(n), "schemaChangePolicy")
			Expect(policies).To(ConsistOf(And(
				HaveKeyWithValue("updateBehavior", "UPDATE_IN_DATABASE"),
				HaveKeyWithValue("deleteBehavior", "DEPRECATE_IN_DATABASE"),
			)))
		}
	})

	It("resolves crawler references to the role and database", func() {
		role, _ := g.Node(NodeCrawlerRole)
		database, _ := g.Node(NodeDatabase)

		for _, c := range s.Crawlers {
			n, found := g.Node(c.ID)
			Expect(found).To(BeTrue())
			Expect(n.DependsOn).To(ConsistOf(NodeBucket, NodeDatabase, NodeCrawlerRole))

			fp := forProviderOf(n)
			roleRef, _, _ := unstructured.NestedString(fp, "roleRef", "name")
			Expect(roleRef).To(Equal(role.Object.GetName()))
			databaseRef, _, _ := unstructured.NestedString(fp, "databaseNameRef", "name")
			Expect(databaseRef).To(Equal(database.Object.GetName()))
		}
	})

	It("makes the upload depend on the bucket only", func() {
		n, found := g.Node(NodeUpload)
		Expect(found).To(BeTrue())
		Expect(n.Kind()).To(Equal(UploadKind))
		Expect(n.DependsOn).To(Equal([]string{NodeBucket}))

		bucket, _ := g.Node(NodeBucket)
		ref, _, _ := unstructured.NestedString(n.Object.Object, "spec", "bucketRef", "name")
		Expect(ref).To(Equal(bucket.Object.GetName()))
	})

	It("trusts the crawler service with the managed policies", func() {
		n, _ := g.Node(NodeCrawlerRole)
		fp := forProviderOf(n)

		doc, _, _ := unstructured.NestedString(fp, "assumeRolePolicy")
		var trust assumeRolePolicy
		Expect(json.Unmarshal([]byte(doc), &trust)).To(Succeed())
		Expect(trust.Statement).To(HaveLen(1))
		Expect(trust.Statement[0].Principal).To(HaveKeyWithValue("Service", "glue.amazonaws.com"))
		Expect(trust.Statement[0].Action).To(Equal("sts:AssumeRole"))

		arns, _, _ := unstructured.NestedStringSlice(fp, "managedPolicyArns")
		Expect(arns).To(Equal(DefaultManagedPolicyARNs))
	})

	It("warns about each full access policy", func() {
		Expect(g.Violations).To(HaveLen(3))
		Expect(g.HasBlockingViolations()).To(BeFalse())
		Expect(g.Violations[1].Path).To(Equal("crawler-role.spec.forProvider.managedPolicyArns[1]"))
	})

	It("orders provisioning so referents come first", func() {
		dag, err := graph.BuildDAG(g)
		Expect(err).NotTo(HaveOccurred())

		for _, id := range []string{NodeCSVCrawler, NodeParquetCrawler} {
			Expect(dag.Precedes(NodeBucket, id)).To(BeTrue())
			Expect(dag.Precedes(NodeDatabase, id)).To(BeTrue())
			Expect(dag.Precedes(NodeCrawlerRole, id)).To(BeTrue())
		}
		Expect(dag.Precedes(NodeBucket, NodeUpload)).To(BeTrue())
		Expect(dag.GetRootNodes()).To(ConsistOf(NodeBucket, NodeDatabase, NodeCrawlerRole))
	})

	It("is a pure function of its config", func() {
		again, err := Build(Config{AccountID: testAccount})
		Expect(err).NotTo(HaveOccurred())

		first, err := json.Marshal(g)
		Expect(err).NotTo(HaveOccurred())
		second, err := json.Marshal(again.Graph())
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(again.Graph().Metadata.RenderHash).To(Equal(g.Metadata.RenderHash))
	})

	It("hands out independent copies of the graph", func() {
		n, _ := g.Node(NodeBucket)
		n.Object.SetName("mutated")

		fresh, _ := s.Graph().Node(NodeBucket)
		Expect(fresh.Object.GetName()).To(Equal("123456789012-datalake"))
	})

	Context("with invalid input", func() {
		It("fails without an account", func() {
			for _, account := range []string{"", "   "} {
				built, err := Build(Config{AccountID: account})
				Expect(built).To(BeNil())
				Expect(errors.Is(err, ErrMissingAccount)).To(BeTrue())
			}
		})

		It("rejects a malformed account", func() {
			_, err := Build(Config{AccountID: "12345"})
			Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		})

		It("rejects an unknown removal policy", func() {
			_, err := Build(Config{AccountID: testAccount, RemovalPolicy: "Snapshot"})
			Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		})

		It("rejects a database name that maps to an invalid object name", func() {
			_, err := Build(Config{AccountID: testAccount, DatabaseName: "_datalake"})
			Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		})

		It("rejects a stack name that overflows labels and the role name", func() {
			_, err := Build(Config{AccountID: testAccount, StackName: strings.Repeat("a", 70)})
			Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		})

		It("rejects an invalid object name found while rendering", func() {
			cfg := Config{AccountID: testAccount}.WithDefaults()
			declared := declare(cfg)
			declared.Database.Name = "_raw_"

			_, err := declared.render(cfg)
			Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		})

		It("renders API server compatible names at the length limits", func() {
			built, err := Build(Config{
				AccountID:    testAccount,
				StackName:    strings.Repeat("s", 51),
				DatabaseName: "raw_" + strings.Repeat("d", 100),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(len(built.Role.Name)).To(BeNumerically("<=", 64))

			for _, n := range built.Graph().Nodes {
				Expect(validation.IsDNS1123Subdomain(n.Object.GetName())).To(BeEmpty(), "node %s", n.ID)
				for k, v := range n.Object.GetLabels() {
					Expect(validation.IsValidLabelValue(v)).To(BeEmpty(), "node %s label %s", n.ID, k)
				}
			}
		})

		It("reports a reference to a missing node", func() {
			cfg := Config{AccountID: testAccount}.WithDefaults()
			declared := declare(cfg)
			declared.Crawlers[0].RoleRef = "missing-role"

			_, err := declared.render(cfg)
			Expect(errors.Is(err, graph.ErrDanglingReference)).To(BeTrue())
		})

		It("reports duplicate descriptors", func() {
			cfg := Config{AccountID: testAccount}.WithDefaults()
			declared := declare(cfg)
			declared.Crawlers[1].Name = declared.Crawlers[0].Name

			_, err := declared.render(cfg)
			Expect(errors.Is(err, graph.ErrDuplicateNode)).To(BeTrue())
		})
	})

	Context("with optional settings", func() {
		It("orphans a retained bucket", func() {
			built, err := Build(Config{AccountID: testAccount, RemovalPolicy: RemovalPolicyRetain})
			Expect(err).NotTo(HaveOccurred())
			n, _ := built.Graph().Node(NodeBucket)
			policy, _, _ := unstructured.NestedString(n.Object.Object, "spec", "deletionPolicy")
			Expect(policy).To(Equal("Orphan"))
		})

		It("adds a lifecycle rule when expiration is set", func() {
			built, err := Build(Config{AccountID: testAccount, LifecycleExpirationDays: 30})
			Expect(err).NotTo(HaveOccurred())

			lg := built.Graph()
			n, found := lg.Node(NodeBucketLifecycle)
			Expect(found).To(BeTrue())
			Expect(n.DependsOn).To(Equal([]string{NodeBucket}))
			Expect(n.Object.GetAnnotations()).NotTo(HaveKey("crossplane.io/external-name"))

			rules, _, _ := unstructured.NestedSlice(forProviderOf(n), "rule")
			Expect(rules).To(HaveLen(1))
			expiration, _, _ := unstructured.NestedSlice(rules[0].(map[string]interface{}), "expiration")
			Expect(expiration).To(ConsistOf(HaveKeyWithValue("days", int64(30))))

			Expect(lg.Metadata.RenderHash).NotTo(Equal(g.Metadata.RenderHash))
		})

		It("schedules crawlers", func() {
			built, err := Build(Config{AccountID: testAccount, CrawlerSchedule: "cron(0 2 * * ? *)"})
			Expect(err).NotTo(HaveOccurred())
			n, _ := built.Graph().Node(NodeParquetCrawler)
			Expect(forProviderOf(n)).To(HaveKeyWithValue("schedule", "cron(0 2 * * ? *)"))
		})

		It("records no violations for scoped policies", func() {
			built, err := Build(Config{
				AccountID:         testAccount,
				ManagedPolicyARNs: []string{"arn:aws:iam::aws:policy/service-role/AWSGlueServiceRole"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(built.Graph().Violations).To(BeEmpty())
		})
	})
})
