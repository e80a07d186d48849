package app

import (
	"nova_progress_backend/docs"
	"nova_progress_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, auth gin.HandlerFunc) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(auth)
	{
		a.registerSessionRoutes(authGroup, c)
		a.registerGameRoutes(authGroup, c)
		a.registerOracleRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/setup/schema", c.health.SetupSchema)

		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/signup", c.auth.SignUp)
			authRoutes.POST("/login", c.auth.Login)
			authRoutes.POST("/magic-link", c.auth.SendMagicLink)
			authRoutes.POST("/magic-link/verify", c.auth.VerifyMagicLink)
			authRoutes.POST("/recover", c.auth.Recover)
			authRoutes.POST("/reset-password", c.auth.ResetPassword)
			authRoutes.GET("/oauth/:provider", c.auth.OAuthRedirect)
			authRoutes.GET("/oauth/:provider/callback", c.auth.OAuthCallback)
		}

		// 支付回调使用远程函数密钥
		public.POST("/checkout/confirm", c.checkout.Confirm)
	}
}

func (a *App) registerSessionRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/session", c.auth.Session)
	rg.POST("/logout", c.auth.Logout)
	rg.GET("/realtime", c.realtime.Connect)
	rg.POST("/checkout", c.checkout.Start)
}

func (a *App) registerGameRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/state", c.game.GetState)
	rg.POST("/state/offline", c.game.SetOffline)

	// 资料
	rg.GET("/profile", c.game.GetProfile)
	rg.PUT("/profile", c.game.UpdateProfile)
	rg.POST("/profile/avatar", c.game.UploadAvatar)
	rg.GET("/profile/onboarding", c.game.Onboarding)

	rg.GET("/categories", c.game.ListCategories)
	rg.POST("/categories", c.game.CreateCategory)
	rg.GET("/analytics", c.game.Analytics)

	// 任务
	tasks := rg.Group("/tasks")
	{
		tasks.GET("", c.task.ListTasks)
		tasks.POST("", c.task.CreateTask)
		tasks.POST("/complete-all", c.task.CompleteAll)
		tasks.PUT("/:id", c.task.UpdateTask)
		tasks.DELETE("/:id", c.task.DeleteTask)
		tasks.POST("/:id/toggle", c.task.ToggleTask)
		tasks.POST("/:id/subtasks/:subId/toggle", c.task.ToggleSubtask)
		tasks.PUT("/:id/position", c.task.SavePosition)
		tasks.PUT("/:id/connections", c.task.ConnectTasks)
	}

	rg.PUT("/projects/:id", c.task.UpsertProject)
	rg.DELETE("/projects/:id", c.task.DeleteProject)
	rg.POST("/projects/:id/milestones/:milestoneId/complete", c.task.CompleteMilestone)
	rg.PUT("/skills/:id", c.task.UpsertSkill)
	rg.DELETE("/skills/:id", c.task.DeleteSkill)
	rg.PUT("/business/:id", c.task.UpsertBusiness)
	rg.DELETE("/business/:id", c.task.DeleteBusiness)
}

func (a *App) registerOracleRoutes(rg *gin.RouterGroup, c *controllers) {
	oracle := rg.Group("/oracle")
	{
		oracle.PUT("/key", c.oracle.SetAPIKey)
		oracle.POST("/physique", c.oracle.AnalyzePhysique)
		oracle.POST("/suggestions", c.oracle.Suggest)
		oracle.POST("/journal", c.oracle.AnalyzeJournal)
		oracle.GET("/journal", c.oracle.ListJournal)
		oracle.POST("/command", c.oracle.Command)
	}
}
